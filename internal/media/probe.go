package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ProbeDuration returns the media duration in seconds using ffprobe.
func (s *Splitter) ProbeDuration(ctx context.Context, source string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source,
	}
	output, err := s.output(ctx, s.cfg.FFprobeBinary, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", source, err)
	}
	value := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration %q: %w", source, value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("ffprobe %s: non-positive duration %f", source, duration)
	}
	return duration, nil
}

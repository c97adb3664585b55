// Package media prepares uploaded files for transcription. Large inputs are
// split into fixed-length audio chunks with ffmpeg, transcribed with bounded
// concurrency, and reassembled in source order.
package media

package config

const (
	defaultInboxDir = "~/.local/share/scribe/inbox"
	defaultWorkDir  = "~/.local/share/scribe/work"
	defaultStateDir = "~/.local/share/scribe/state"
	defaultLogDir   = "~/.local/share/scribe/logs"
	defaultAPIBind  = "127.0.0.1:7519"

	defaultTranscriberBaseURL = "https://api.openai.com/v1"
	defaultTranscriberModel   = "whisper-1"
	defaultTranscriberTimeout = 1800

	defaultChunkThresholdMB = 24
	defaultChunkSeconds     = 180
	defaultChunkConcurrency = 3

	defaultLLMBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel   = "google/gemini-3-flash-preview"
	defaultLLMTimeout = 120

	defaultArticleModel = "gemini-3-flash-preview"

	defaultPollIntervalSeconds   = 5
	defaultErrorRetrySeconds     = 10
	defaultStageTimeoutMinutes   = 30
	defaultWorkerConcurrency     = 2
	defaultMaxAttempts           = 3
	defaultRetryBackoffSeconds   = 60
	defaultReaperIntervalMinutes = 15
	defaultStallTimeoutMinutes   = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InboxDir: defaultInboxDir,
			WorkDir:  defaultWorkDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Transcriber: Transcriber{
			BaseURL:          defaultTranscriberBaseURL,
			Model:            defaultTranscriberModel,
			TimeoutSeconds:   defaultTranscriberTimeout,
			ChunkThresholdMB: defaultChunkThresholdMB,
			ChunkSeconds:     defaultChunkSeconds,
			ChunkConcurrency: defaultChunkConcurrency,
			FFmpegBinary:     "ffmpeg",
			FFprobeBinary:    "ffprobe",
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Article: Article{
			Model: defaultArticleModel,
		},
		Workflow: Workflow{
			PollIntervalSeconds:   defaultPollIntervalSeconds,
			ErrorRetrySeconds:     defaultErrorRetrySeconds,
			StageTimeoutMinutes:   defaultStageTimeoutMinutes,
			WorkerConcurrency:     defaultWorkerConcurrency,
			MaxAttempts:           defaultMaxAttempts,
			RetryBackoffSeconds:   defaultRetryBackoffSeconds,
			ReaperIntervalMinutes: defaultReaperIntervalMinutes,
			StallTimeoutMinutes:   defaultStallTimeoutMinutes,
			WatchInbox:            true,
			AutoStart:             true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

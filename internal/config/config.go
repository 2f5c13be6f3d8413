// Package config provides the configuration schema, loader, and provider
// registry for voxloop.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultSystemPrompt is the persona used when session.system_prompt is empty.
const DefaultSystemPrompt = "You are a helpful assistant. Always reply in a casual, conversational tone. " +
	"Keep it short and friendly, never go over 100 words. Be direct and easy to understand."

// Config is the root configuration structure for voxloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Listen    ListenConfig    `yaml:"listen"`
	Session   SessionConfig   `yaml:"session"`
	Speech    SpeechConfig    `yaml:"speech"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds logging and status-endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the address of the health and metrics server
	// (e.g., ":9464"). When empty no HTTP server is started.
	ListenAddr string `yaml:"listen_addr"`
}

// ProvidersConfig selects the backend for each stage of the loop.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`

	// TTS lists every synthesis backend the speech dispatcher may use.
	// speech.backend picks the one used for replies.
	TTS []ProviderEntry `yaml:"tts"`

	Audio ProviderEntry `yaml:"audio"`

	// CircuitBreaker tunes the breakers guarding fallback chains.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig sets when a failing provider is skipped. Zero values
// keep the resilience defaults (3 failures, 30s).
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TTSNames returns the configured synthesis backend names in order.
func (p ProvidersConfig) TTSNames() []string {
	names := make([]string, 0, len(p.TTS))
	for _, e := range p.TTS {
		names = append(names, e.Name)
	}
	return names
}

// ProviderEntry is the configuration for a single provider instance.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "openai", "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key, usually given as "${ENV_VAR}".
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model, or a model file path for local engines.
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Nested
	// fallbacks of a fallback are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// OptString returns the string option key, or "" when absent or not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns the integer option key, or 0 when absent or not a number.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// ListenConfig configures capture and endpoint detection.
type ListenConfig struct {
	// SampleRate of the capture stream in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDuration is the length of one analysed frame. Defaults to 200ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// EnergyThreshold is the RMS level above which a frame counts as speech.
	// Defaults to 0.01.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// PauseDuration of continuous silence ends an utterance. Defaults to 1.2s.
	PauseDuration time.Duration `yaml:"pause_duration"`

	// NoSpeechTimeout bounds how long to wait for speech to start. Zero waits
	// forever.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// MaxUtterance caps a single utterance. Zero means no cap.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// Language hint passed to the transcription engine.
	Language string `yaml:"language"`
}

// FrameSize returns the number of samples per frame.
func (l ListenConfig) FrameSize() int {
	return int(int64(l.SampleRate) * int64(l.FrameDuration) / int64(time.Second))
}

// SessionConfig configures the conversation and response generation.
type SessionConfig struct {
	SystemPrompt string `yaml:"system_prompt"`

	// TerminationPhrases end the session when a user turn contains one.
	// A phrase written as "=exit" must be the whole turn instead. Defaults
	// to "goodbye" and "good bye".
	TerminationPhrases []string `yaml:"termination_phrases"`

	// Temperature for response generation. Defaults to 0.7 when unset.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Zero uses the model default.
	MaxTokens int `yaml:"max_tokens"`
}

// SpeechConfig configures reply playback.
type SpeechConfig struct {
	// Backend names the providers.tts entry used for replies. Defaults to the
	// first entry.
	Backend string `yaml:"backend"`

	// Voice is a voice ID or name. Names are resolved against the backend's
	// voice list at startup.
	Voice string `yaml:"voice"`

	// Rate in words per minute. Defaults to 150.
	Rate int `yaml:"rate"`

	// Volume from 0 to 1. Defaults to 1.
	Volume *float64 `yaml:"volume"`

	// OutputFile, when set, receives every reply as a WAV file instead of
	// playing it.
	OutputFile string `yaml:"output_file"`
}

// LogConfig configures the session log.
type LogConfig struct {
	// Dir receives one append-only text file per day. Defaults to
	// "conversations".
	Dir string `yaml:"dir"`

	// PostgresDSN, when set, mirrors session records into PostgreSQL.
	PostgresDSN string `yaml:"postgres_dsn"`
}

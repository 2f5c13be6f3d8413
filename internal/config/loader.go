package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxloop/internal/endpoint"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":   {"whisper", "whisper-native", "openai", "deepgram"},
	"tts":   {"espeak", "coqui", "elevenlabs", "openai"},
	"audio": {"portaudio"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate  = 16000
	DefaultTemperature = 0.7
	DefaultRate        = 150
	DefaultVolume      = 1.0
	DefaultLogDir      = "conversations"
	DefaultLanguage    = "en"
)

// DefaultTerminationPhrases end a session when none are configured.
var DefaultTerminationPhrases = []string{"goodbye", "good bye"}

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands environment references in r, decodes the YAML,
// applies defaults and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${NAME} with the value of the environment variable NAME
// and ${NAME:-fallback} with fallback when NAME is unset or empty. A bare
// $NAME is left untouched so literal dollar signs in prompts survive.
func ExpandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v := os.Getenv(string(sub[1])); v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}

	l := &cfg.Listen
	if l.SampleRate == 0 {
		l.SampleRate = DefaultSampleRate
	}
	if l.FrameDuration == 0 {
		l.FrameDuration = endpoint.DefaultFrameDuration
	}
	if l.EnergyThreshold == 0 {
		l.EnergyThreshold = endpoint.DefaultEnergyThreshold
	}
	if l.PauseDuration == 0 {
		l.PauseDuration = endpoint.DefaultPauseDuration
	}
	if l.Language == "" {
		l.Language = DefaultLanguage
	}

	s := &cfg.Session
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	if len(s.TerminationPhrases) == 0 {
		s.TerminationPhrases = slices.Clone(DefaultTerminationPhrases)
	}
	if s.Temperature == nil {
		t := DefaultTemperature
		s.Temperature = &t
	}

	sp := &cfg.Speech
	if sp.Backend == "" && len(cfg.Providers.TTS) > 0 {
		sp.Backend = cfg.Providers.TTS[0].Name
	}
	if sp.Rate == 0 {
		sp.Rate = DefaultRate
	}
	if sp.Volume == nil {
		v := DefaultVolume
		sp.Volume = &v
	}

	if cfg.Log.Dir == "" {
		cfg.Log.Dir = DefaultLogDir
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if len(cfg.Providers.TTS) == 0 {
		errs = append(errs, errors.New("providers.tts must list at least one backend"))
	}
	validateEntry("stt", "providers.stt", cfg.Providers.STT, &errs)
	validateEntry("llm", "providers.llm", cfg.Providers.LLM, &errs)
	validateEntry("audio", "providers.audio", cfg.Providers.Audio, &errs)
	ttsSeen := make(map[string]int, len(cfg.Providers.TTS))
	for i, e := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("providers.tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := ttsSeen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.tts[%d]", prefix, e.Name, prev))
		}
		ttsSeen[e.Name] = i
		validateEntry("tts", prefix, e, &errs)
	}

	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Listen
	l := cfg.Listen
	if l.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("listen.sample_rate %d must be positive", l.SampleRate))
	}
	if l.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("listen.frame_duration %v must be positive", l.FrameDuration))
	} else if l.SampleRate > 0 && l.FrameSize() == 0 {
		errs = append(errs, fmt.Errorf("listen.frame_duration %v is shorter than one sample at %d Hz", l.FrameDuration, l.SampleRate))
	}
	if l.EnergyThreshold <= 0 || l.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("listen.energy_threshold %g is out of range (0, 1)", l.EnergyThreshold))
	}
	if l.PauseDuration < l.FrameDuration {
		errs = append(errs, fmt.Errorf("listen.pause_duration %v must be at least one frame (%v)", l.PauseDuration, l.FrameDuration))
	}
	if l.NoSpeechTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.no_speech_timeout %v must not be negative", l.NoSpeechTimeout))
	}
	if l.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("listen.max_utterance %v must not be negative", l.MaxUtterance))
	}

	// Session
	if t := cfg.Session.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Session.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_tokens %d must not be negative", cfg.Session.MaxTokens))
	}
	for i, p := range cfg.Session.TerminationPhrases {
		// A leading "=" marks an exact-match phrase and is not part of it.
		if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "=")) == "" {
			errs = append(errs, fmt.Errorf("session.termination_phrases[%d] is empty", i))
		}
	}

	// Speech
	sp := cfg.Speech
	if sp.Backend != "" && len(cfg.Providers.TTS) > 0 {
		if _, ok := ttsSeen[sp.Backend]; !ok {
			errs = append(errs, fmt.Errorf("speech.backend %q is not one of providers.tts %v", sp.Backend, cfg.Providers.TTSNames()))
		}
	}
	if sp.Rate < 0 {
		errs = append(errs, fmt.Errorf("speech.rate %d must not be negative", sp.Rate))
	}
	if v := sp.Volume; v != nil && (*v <= 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("speech.volume %.2f is out of range (0, 1]", *v))
	}

	return errors.Join(errs...)
}

// validateEntry checks the fallbacks of e and warns about unknown names.
func validateEntry(kind, prefix string, e ProviderEntry, errs *[]error) {
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			*errs = append(*errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			slog.Warn("nested fallbacks are ignored", "entry", fmt.Sprintf("%s.fallbacks[%d]", prefix, i))
		}
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

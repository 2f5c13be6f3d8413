package app

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/audio/portaudio"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/voxloop/pkg/provider/llm/openai"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/voxloop/pkg/provider/stt/openai"
	"github.com/MrWong99/voxloop/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	"github.com/MrWong99/voxloop/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxloop/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxloop/pkg/provider/tts/espeak"
	ttsopenai "github.com/MrWong99/voxloop/pkg/provider/tts/openai"
)

// Providers holds the constructed backends. Populated by [BuildProviders].
type Providers struct {
	STT stt.Provider
	LLM llm.Provider

	// TTS maps each providers.tts name to its backend.
	TTS map[string]tts.Provider

	Audio audio.Device
}

// RegisterBuiltinProviders wires every built-in provider factory into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		p, err := llmopenai.New(entry.APIKey, entry.Model, opts...)
		if errors.Is(err, llm.ErrMissingCredential) {
			return unavailableLLM(entry, err), nil
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Every other any-llm-go backend shares one factory: optional APIKey and
	// optional BaseURL.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(backend, entry.Model, opts...)
			if err != nil && entry.APIKey == "" && !anyllm.IsLocal(backend) {
				return unavailableLLM(entry, fmt.Errorf("%w: %v", llm.ErrMissingCredential, err)), nil
			}
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("espeak", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []espeak.Option
		if bin := entry.OptString("binary"); bin != "" {
			opts = append(opts, espeak.WithBinary(bin))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, espeak.WithDefaultVoice(v))
		}
		return espeak.New(opts...), nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.OptString("speaker"); speaker != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if v := entry.OptString("voice"); v != "" {
			opts = append(opts, ttsopenai.WithDefaultVoice(v))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		return portaudio.New(
			portaudio.WithInputDevice(entry.OptString("input_device")),
			portaudio.WithOutputDevice(entry.OptString("output_device")),
			portaudio.WithOutputBufferFrames(entry.OptInt("output_buffer_frames")),
		)
	})

	for _, kind := range []string{"stt", "llm", "tts", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildProviders instantiates every provider named in cfg. Unlike optional
// subsystems, each stage of the loop is required, so an unregistered name is
// an error.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{TTS: make(map[string]tts.Provider, len(cfg.Providers.TTS))}
	cb := cfg.Providers.CircuitBreaker
	reg.SetFallbackConfig(resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
	}})

	var err error
	if ps.STT, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if ps.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
		closeAll(ps)
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			closeAll(ps)
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS[entry.Name] = p
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	if ps.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		closeAll(ps)
		return nil, fmt.Errorf("create audio device %q: %w", cfg.Providers.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// Close releases every provider that holds resources (the audio device and
// the native whisper model).
func (ps *Providers) Close() error {
	return closeAll(ps)
}

func closeAll(ps *Providers) error {
	var errs []error
	if c, ok := ps.STT.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if ps.Audio != nil {
		errs = append(errs, ps.Audio.Close())
	}
	return errors.Join(errs...)
}

// unavailableLLM stands in for an LLM backend without credentials, so every
// turn fails its response stage instead of the loop refusing to start.
func unavailableLLM(entry config.ProviderEntry, err error) llm.Provider {
	slog.Warn("llm provider has no api key; every reply will fail",
		"name", entry.Name,
		"err", err,
	)
	return llm.Unavailable{Err: err}
}

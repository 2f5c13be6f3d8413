package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// errNoAudio marks a synthesis that ended without producing any sound.
var errNoAudio = errors.New("no audio produced")

// TTSFallback is a [tts.Provider] that fails over between speech backends.
//
// The whole reply is read before synthesis starts so that it can be handed to
// the next backend if one fails. A backend fails when it cannot start or when
// its stream closes before the first chunk; once audio has been emitted the
// reply stays with that backend. Fallbacks are resampled to the primary's
// format, which is what [TTSFallback.Format] reports.
type TTSFallback struct {
	group  *FallbackGroup[tts.Provider]
	format audio.Format
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a chain whose preferred backend is primary.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:  NewFallbackGroup(primary, name, cfg),
		format: primary.Format(),
	}
}

// AddFallback appends a backend to the chain.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, tts.Resample(p, f.format.SampleRate))
}

// Names lists the chain in try order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Format implements [tts.Provider].
func (f *TTSFallback) Format() audio.Format { return f.format }

// SynthesizeStream implements [tts.Provider].
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		reply, ok := tts.ReadText(ctx, text)
		if !ok || strings.TrimSpace(reply) == "" {
			return
		}
		_, err := Call(f.group, func(p tts.Provider) (struct{}, error) {
			return struct{}{}, forward(ctx, p, reply, voice, out)
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("resilience: speech synthesis failed", "err", err)
		}
	}()
	return out, nil
}

// forward streams one backend's audio into out.
func forward(ctx context.Context, p tts.Provider, reply string, voice tts.VoiceProfile, out chan<- []byte) error {
	ch, err := p.SynthesizeStream(ctx, tts.Text(reply), voice)
	if err != nil {
		return err
	}
	emitted := false
	for chunk := range ch {
		select {
		case out <- chunk:
			emitted = true
		case <-ctx.Done():
			go audio.Drain(ch)
			return ctx.Err()
		}
	}
	if !emitted {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errNoAudio
	}
	return nil
}

// ListVoices implements [tts.Provider].
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Call(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

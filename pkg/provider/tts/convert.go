package tts

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Resample wraps p so that every chunk is converted to mono PCM at sampleRate.
// It returns p unchanged when the format already matches.
func Resample(p Provider, sampleRate int) Provider {
	target := audio.Format{SampleRate: sampleRate, Channels: 1}
	if p.Format() == target {
		return p
	}
	return &resampled{Provider: p, target: target}
}

type resampled struct {
	Provider
	target audio.Format
}

func (r *resampled) Format() audio.Format { return r.target }

func (r *resampled) SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error) {
	src, err := r.Provider.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	from := r.Provider.Format()
	out := make(chan []byte, cap(src))
	go func() {
		defer close(out)
		// Odd-length chunks would split a sample; carry the remainder.
		var carry []byte
		for chunk := range src {
			if len(carry) > 0 {
				chunk = append(carry, chunk...)
				carry = nil
			}
			frame := 2 * max(from.Channels, 1)
			if rem := len(chunk) % frame; rem != 0 {
				carry = append([]byte(nil), chunk[len(chunk)-rem:]...)
				chunk = chunk[:len(chunk)-rem]
			}
			if len(chunk) == 0 {
				continue
			}
			select {
			case out <- audio.ToMonoPCM(chunk, from, r.target.SampleRate):
			case <-ctx.Done():
				audio.Drain(src)
				return
			}
		}
	}()
	return out, nil
}

// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis engine (a local espeak-ng binary, a
// Coqui server, ElevenLabs, OpenAI, ...) and presents a uniform streaming
// interface: text fragments go in, 16-bit little-endian PCM comes out in the
// provider's declared [Provider.Format].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns
	// a channel that emits raw PCM chunks as they are synthesised.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors during
	// synthesis close the audio channel early and are logged by the provider.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices this provider can synthesise with.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the PCM format of every chunk SynthesizeStream emits.
	Format() audio.Format
}

// Text returns a closed channel carrying the single fragment s. It adapts a
// complete reply to the streaming SynthesizeStream contract.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

// ReadText concatenates fragments until text is closed. It reports false if
// ctx ended first. Batch backends use it to gather a whole reply.
func ReadText(ctx context.Context, text <-chan string) (string, bool) {
	var sb strings.Builder
	for {
		select {
		case s, ok := <-text:
			if !ok {
				return sb.String(), true
			}
			sb.WriteString(s)
		case <-ctx.Done():
			return "", false
		}
	}
}

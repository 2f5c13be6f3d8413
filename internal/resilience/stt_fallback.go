package resilience

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over between transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates a chain whose preferred backend is primary.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Names lists the chain in try order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return Call(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxloop/internal/resilience"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a name → factory table for one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	names := make([]string, 0, len(f.m))
	for n := range f.m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
//
// When an entry carries fallbacks, CreateSTT, CreateLLM and CreateTTS build
// each of them too and return a [resilience] fallback chain instead of the
// bare provider. A fallback that fails to build is skipped with a warning.
type Registry struct {
	mu       sync.RWMutex
	stt      factories[stt.Provider]
	llm      factories[llm.Provider]
	tts      factories[tts.Provider]
	audio    factories[audio.Device]
	fallback resilience.FallbackConfig
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:   newFactories[stt.Provider]("stt"),
		llm:   newFactories[llm.Provider]("llm"),
		tts:   newFactories[tts.Provider]("tts"),
		audio: newFactories[audio.Device]("audio"),
	}
}

// SetFallbackConfig sets the circuit-breaker settings used for fallback
// chains built by later Create* calls.
func (r *Registry) SetFallbackConfig(cfg resilience.FallbackConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = cfg
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Device]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// Names returns the sorted registered names for kind ("stt", "llm", "tts"
// or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	case "audio":
		return r.audio.names()
	}
	return nil
}

// CreateSTT instantiates the STT provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	primary, err := r.stt.create(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return primary, err
	}
	chain := resilience.NewSTTFallback(primary, entry.Name, r.fallback)
	eachFallback(r.stt, entry, chain.AddFallback)
	return chain, nil
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	primary, err := r.llm.create(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return primary, err
	}
	chain := resilience.NewLLMFallback(primary, entry.Name, r.fallback)
	eachFallback(r.llm, entry, chain.AddFallback)
	return chain, nil
}

// CreateTTS instantiates the TTS provider registered under entry.Name. A
// fallback chain reports the primary's audio format.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	primary, err := r.tts.create(entry)
	if err != nil || len(entry.Fallbacks) == 0 {
		return primary, err
	}
	chain := resilience.NewTTSFallback(primary, entry.Name, r.fallback)
	eachFallback(r.tts, entry, chain.AddFallback)
	return chain, nil
}

// CreateAudio instantiates the audio device registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// eachFallback builds every fallback of entry and passes it to add.
func eachFallback[T any](f factories[T], entry ProviderEntry, add func(string, T)) {
	for _, fb := range entry.Fallbacks {
		p, err := f.create(fb)
		if err != nil {
			slog.Warn("skipping fallback provider", "kind", f.kind, "primary", entry.Name, "fallback", fb.Name, "err", err)
			continue
		}
		add(fb.Name, p)
	}
}

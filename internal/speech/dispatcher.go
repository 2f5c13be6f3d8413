// Package speech turns assistant replies into sound.
//
// A [Dispatcher] owns a set of named TTS backends and an output device. Each
// [Dispatcher.Speak] call synthesises one reply with the chosen backend and
// either plays it, blocking until the device has rendered the last sample,
// or writes it to a WAV file. Only one reply is ever in flight.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

var (
	// ErrUnknownBackend is returned when a backend name is not registered.
	ErrUnknownBackend = errors.New("speech: unknown backend")

	// ErrNoAudio is returned when a backend finished without producing any
	// sound. Backends report mid-stream failures by closing their channel
	// early, so this is how a failed synthesis surfaces.
	ErrNoAudio = errors.New("speech: no audio produced")
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithVoice sets the voice, rate and volume used for every reply.
func WithVoice(v tts.VoiceProfile) Option {
	return func(d *Dispatcher) { d.voice = v }
}

// WithMetrics records synthesis latency into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher synthesises replies and delivers them.
type Dispatcher struct {
	backends       map[string]tts.Provider
	player         audio.Player
	defaultBackend string
	metrics        *observe.Metrics

	mu    sync.Mutex // held for the whole of Speak
	voice tts.VoiceProfile
}

// NewDispatcher validates that defaultBackend is among backends. player may
// be nil when every reply goes to a file.
func NewDispatcher(backends map[string]tts.Provider, player audio.Player, defaultBackend string, opts ...Option) (*Dispatcher, error) {
	if _, ok := backends[defaultBackend]; !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownBackend, defaultBackend, strings.Join(sortedKeys(backends), ", "))
	}
	d := &Dispatcher{
		backends:       backends,
		player:         player,
		defaultBackend: defaultBackend,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Backends lists the registered backend names in sorted order.
func (d *Dispatcher) Backends() []string { return sortedKeys(d.backends) }

// Voice returns the voice used for replies.
func (d *Dispatcher) Voice() tts.VoiceProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voice
}

// SetVoice replaces the voice used for subsequent replies.
func (d *Dispatcher) SetVoice(v tts.VoiceProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voice = v
}

// Speak synthesises text with backend ("" selects the default). With an
// empty destination the audio is played and Speak returns once playback has
// finished. Otherwise a 16-bit PCM WAV file is written to destination,
// replacing any previous file, and nothing is played.
func (d *Dispatcher) Speak(ctx context.Context, text, backend, destination string) error {
	if backend == "" {
		backend = d.defaultBackend
	}
	p, ok := d.backends[backend]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownBackend, backend)
	}
	if destination == "" && d.player == nil {
		return errors.New("speech: no output device and no destination file")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "tts.speak")
	defer span.End()
	start := time.Now()

	err := d.deliver(ctx, p, text, destination)
	d.metrics.RecordProviderCall(ctx, d.metrics.TTSDuration, backend, observe.KindTTS, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("speech: %s: %w", backend, err)
	}
	observe.Logger(ctx).Debug("speech: reply delivered",
		"backend", backend,
		"file", destination,
		"elapsed", time.Since(start),
	)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, p tts.Provider, text, destination string) error {
	ch, err := p.SynthesizeStream(ctx, tts.Text(text), d.voice)
	if err != nil {
		return fmt.Errorf("start synthesis: %w", err)
	}
	pcm := withGain(ch, d.voice.Gain())
	format := p.Format()

	if destination != "" {
		return writeFile(ctx, destination, pcm, format)
	}
	pcm, err = primed(ctx, pcm)
	if err != nil {
		return err
	}
	if err := d.player.Play(ctx, pcm, format); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// primed waits for the first non-empty chunk of ch, so the device is only
// opened for a reply that has sound. The returned channel yields that chunk
// followed by the rest of ch.
func primed(ctx context.Context, ch <-chan []byte) (<-chan []byte, error) {
	for {
		select {
		case first, ok := <-ch:
			if !ok {
				return nil, ErrNoAudio
			}
			if len(first) == 0 {
				continue
			}
			out := make(chan []byte, cap(ch)+1)
			out <- first
			go func() {
				defer close(out)
				for chunk := range ch {
					select {
					case out <- chunk:
					case <-ctx.Done():
						audio.Drain(ch)
						return
					}
				}
			}()
			return out, nil
		case <-ctx.Done():
			go audio.Drain(ch)
			return nil, ctx.Err()
		}
	}
}

// withGain scales every chunk by gain. Backends take voice and rate, but
// volume is applied here so it behaves the same for all of them.
func withGain(ch <-chan []byte, gain float64) <-chan []byte {
	if gain == 1 {
		return ch
	}
	out := make(chan []byte, cap(ch))
	go func() {
		defer close(out)
		for chunk := range ch {
			out <- audio.ScalePCM16(slices.Clone(chunk), gain)
		}
	}()
	return out
}

// writeFile collects the whole reply and replaces path with it. The file is
// written beside path first, so an interrupted reply never leaves a
// truncated file. A reply without sound leaves path untouched.
func writeFile(ctx context.Context, path string, pcm <-chan []byte, format audio.Format) error {
	var data []byte
	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				if len(data) == 0 {
					return ErrNoAudio
				}
				return replaceFile(path, data, format)
			}
			data = append(data, chunk...)
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		}
	}
}

func replaceFile(path string, pcm []byte, format audio.Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := audio.WriteWAV(tmp, pcm, format); err != nil {
		tmp.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func sortedKeys(m map[string]tts.Provider) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

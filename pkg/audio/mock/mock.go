// Package mock provides in-memory implementations of [audio.Source],
// [audio.Stream] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{loud, quiet, quiet}}
//	stream, _ := src.Open(ctx, audio.StreamConfig{SampleRate: 16000, FrameSize: 3200})
//	defer stream.Close()
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Every Open returns a
// fresh [Stream] that continues from where the previous stream stopped
// reading, so a scripted sequence of frames can span several turns.
type Source struct {
	mu sync.Mutex

	// Frames is the scripted capture. Once exhausted, streams block on
	// ReadFrame until their context is cancelled, or return EOFError if set.
	Frames []audio.Frame

	// EOFError is returned by ReadFrame once Frames is exhausted. When nil,
	// ReadFrame blocks until ctx is done instead.
	EOFError error

	// OpenError, when non-nil, is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many streams were closed.
	CallCountClose int

	// LastConfig is the config passed to the most recent Open.
	LastConfig audio.StreamConfig

	next int
	open int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	s.LastConfig = cfg
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	s.open++
	return &Stream{src: s}, nil
}

// OpenStreams returns the number of streams opened and not yet closed.
func (s *Source) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Remaining returns the number of scripted frames not yet read.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.next
}

func (s *Source) pop() (audio.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.Frames) {
		return audio.Frame{}, false
	}
	f := s.Frames[s.next]
	s.next++
	return f, true
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is the [audio.Stream] returned by [Source.Open].
type Stream struct {
	src    *Source
	closed bool
}

// ReadFrame implements [audio.Stream].
func (st *Stream) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	if st.closed {
		return audio.Frame{}, io.ErrClosedPipe
	}
	if f, ok := st.src.pop(); ok {
		return f, nil
	}
	st.src.mu.Lock()
	eof := st.src.EOFError
	st.src.mu.Unlock()
	if eof != nil {
		return audio.Frame{}, eof
	}
	<-ctx.Done()
	return audio.Frame{}, ctx.Err()
}

// Close implements [audio.Stream].
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.src.mu.Lock()
	defer st.src.mu.Unlock()
	st.src.CallCountClose++
	st.src.open--
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player] that collects every
// played clip.
type Player struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by Play after draining the input.
	PlayError error

	// Played holds the concatenated PCM of each Play call, in call order.
	Played [][]byte

	// Formats holds the format passed to each Play call.
	Formats []audio.Format
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	var clip []byte
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				p.mu.Lock()
				defer p.mu.Unlock()
				p.Played = append(p.Played, clip)
				p.Formats = append(p.Formats, format)
				return p.PlayError
			}
			clip = append(clip, chunk...)
		}
	}
}

// CallCount returns the number of completed Play calls.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device combines a [Source] and a [Player] into an [audio.Device].
type Device struct {
	*Source
	*Player

	mu     sync.Mutex
	closed int
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a Device backed by src and p. Nil arguments are replaced
// by empty mocks.
func NewDevice(src *Source, p *Player) *Device {
	if src == nil {
		src = &Source{}
	}
	if p == nil {
		p = &Player{}
	}
	return &Device{Source: src, Player: p}
}

// Close implements [audio.Device]. It only counts calls.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// CloseCount returns how many times Close was called.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

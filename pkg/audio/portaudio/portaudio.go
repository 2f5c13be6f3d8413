// Package portaudio implements [audio.Source] and [audio.Player] on top of the
// PortAudio cross-platform audio I/O library.
//
// A single [Device] owns the PortAudio library lifetime: [New] initialises
// it and [Device.Close] terminates it. Each call to [Device.Open] opens a new
// blocking-mode input stream, and each [Device.Play] call opens a short-lived
// output stream in the clip's own format, so no resampling is needed between
// synthesis backends with different native rates.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxloop/pkg/audio"
)

const defaultOutputBufferFrames = 1024

// Compile-time interface assertions.
var (
	_ audio.Source = (*Device)(nil)
	_ audio.Player = (*Device)(nil)
	_ audio.Device = (*Device)(nil)
)

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithInputDevice selects the capture device whose name contains name
// (case-insensitive). The host default input is used when empty.
func WithInputDevice(name string) Option {
	return func(d *Device) { d.inputName = name }
}

// WithOutputDevice selects the playback device whose name contains name
// (case-insensitive). The host default output is used when empty.
func WithOutputDevice(name string) Option {
	return func(d *Device) { d.outputName = name }
}

// WithOutputBufferFrames sets the number of frames per output buffer.
func WithOutputBufferFrames(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.outBufFrames = n
		}
	}
}

// Device is a PortAudio-backed microphone and speaker.
type Device struct {
	inputName    string
	outputName   string
	outBufFrames int

	closeOnce sync.Once
}

// New initialises PortAudio and returns a Device. The caller must call
// [Device.Close] to release the library.
func New(opts ...Option) (*Device, error) {
	d := &Device{outBufFrames: defaultOutputBufferFrames}
	for _, o := range opts {
		o(d)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return d, nil
}

// Close terminates the PortAudio library. Safe to call more than once.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if e := pa.Terminate(); e != nil {
			err = fmt.Errorf("portaudio: terminate: %w", e)
		}
	})
	return err
}

// Check reports whether the configured input device is present. It is used
// by the readiness endpoint.
func (d *Device) Check(_ context.Context) error {
	_, err := d.inputDevice()
	return err
}

// Open implements [audio.Source].
func (d *Device) Open(ctx context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid stream config %+v", cfg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := d.inputDevice()
	if err != nil {
		return nil, err
	}
	params := pa.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	buf := make([]int16, cfg.FrameSize)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	slog.Debug("portaudio: input stream opened", "device", dev.Name, "sample_rate", cfg.SampleRate, "frame_size", cfg.FrameSize)
	return &inputStream{stream: stream, buf: buf, sampleRate: cfg.SampleRate}, nil
}

// Play implements [audio.Player].
func (d *Device) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	channels := max(format.Channels, 1)
	dev, err := d.outputDevice()
	if err != nil {
		go audio.Drain(pcm)
		return err
	}
	params := pa.HighLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = d.outBufFrames

	out := make([]int16, d.outBufFrames*channels)
	stream, err := pa.OpenStream(params, out)
	if err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("portaudio: open output stream on %q: %w", dev.Name, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	w := &bufferWriter{out: out, flush: stream.Write}
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return w.finish()
			}
			if err := w.write(chunk); err != nil {
				go audio.Drain(pcm)
				return fmt.Errorf("portaudio: write output: %w", err)
			}
		}
	}
}

func (d *Device) inputDevice() (*pa.DeviceInfo, error) {
	if d.inputName == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	return findDevice(d.inputName, func(di *pa.DeviceInfo) bool { return di.MaxInputChannels > 0 })
}

func (d *Device) outputDevice() (*pa.DeviceInfo, error) {
	if d.outputName == "" {
		dev, err := pa.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default output device: %w", err)
		}
		return dev, nil
	}
	return findDevice(d.outputName, func(di *pa.DeviceInfo) bool { return di.MaxOutputChannels > 0 })
}

func findDevice(name string, usable func(*pa.DeviceInfo) bool) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, di := range devices {
		if usable(di) && strings.Contains(strings.ToLower(di.Name), want) {
			return di, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", name)
}

// ---- input stream ----

type inputStream struct {
	mu         sync.Mutex
	stream     *pa.Stream
	buf        []int16
	sampleRate int
	offset     time.Duration
	closed     bool
}

// ReadFrame implements [audio.Stream]. PortAudio's blocking read cannot be
// interrupted, so cancellation is observed between frames.
func (s *inputStream) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, errors.New("portaudio: read on closed stream")
	}
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read input: %w", err)
		}
		slog.Warn("portaudio: input overflowed, samples were dropped")
	}
	frame := audio.Frame{
		Samples:    audio.Int16ToFloat32(s.buf),
		SampleRate: s.sampleRate,
		Timestamp:  s.offset,
	}
	s.offset += frame.Duration()
	return frame, nil
}

// Close implements [audio.Stream].
func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("portaudio: close input stream: %w", err)
	}
	return nil
}

// ---- output buffering ----

// bufferWriter packs arbitrary-length PCM chunks into the fixed-size int16
// buffer a blocking PortAudio output stream writes from.
type bufferWriter struct {
	out   []int16
	n     int
	carry []byte // odd trailing byte from the previous chunk
	flush func() error
}

func (w *bufferWriter) write(chunk []byte) error {
	if len(w.carry) > 0 {
		chunk = append(w.carry, chunk...)
		w.carry = nil
	}
	for i := 0; i+1 < len(chunk); i += 2 {
		w.out[w.n] = int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8)
		w.n++
		if w.n == len(w.out) {
			if err := w.flush(); err != nil {
				return err
			}
			w.n = 0
		}
	}
	if len(chunk)%2 != 0 {
		w.carry = []byte{chunk[len(chunk)-1]}
	}
	return nil
}

// finish pads the final partial buffer with silence and writes it.
func (w *bufferWriter) finish() error {
	if w.n == 0 {
		return nil
	}
	clear(w.out[w.n:])
	w.n = 0
	if err := w.flush(); err != nil {
		return fmt.Errorf("portaudio: write output: %w", err)
	}
	return nil
}

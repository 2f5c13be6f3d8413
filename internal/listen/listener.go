// Package listen captures one spoken utterance from a live audio source.
//
// A [Listener] opens the input device for the duration of one capture, feeds
// every frame to an [endpoint.Detector] and returns once the detector decides
// the utterance is over. The device is released on every exit path, including
// cancellation, before Capture returns.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxloop/internal/endpoint"
	"github.com/MrWong99/voxloop/pkg/audio"
)

// DefaultSampleRate is the capture rate used when none is configured. Most
// transcription engines expect 16 kHz mono.
const DefaultSampleRate = 16000

// Result is the outcome of one capture.
type Result struct {
	// Utterance holds the captured audio, or nil when no speech was detected.
	Utterance *audio.Utterance

	// Interrupted is true when ctx was cancelled while listening. An
	// interrupted capture never carries an utterance.
	Interrupted bool

	// TimedOut is true when the no-speech cap elapsed.
	TimedOut bool

	// Elapsed is the wall time spent capturing.
	Elapsed time.Duration
}

// NoSpeech reports whether the capture produced no utterance. This is a
// normal turn outcome, not an error.
func (r Result) NoSpeech() bool { return r.Utterance == nil }

// Listener runs endpoint-detected captures against an [audio.Source].
type Listener struct {
	source     audio.Source
	cfg        endpoint.Config
	sampleRate int
}

// Option is a functional option for [New].
type Option func(*Listener)

// WithSampleRate sets the capture sample rate. Default: [DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(l *Listener) {
		if rate > 0 {
			l.sampleRate = rate
		}
	}
}

// New returns a Listener reading from source with detector settings cfg.
func New(source audio.Source, cfg endpoint.Config, opts ...Option) (*Listener, error) {
	if source == nil {
		return nil, errors.New("listen: audio source must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	l := &Listener{source: source, cfg: cfg, sampleRate: DefaultSampleRate}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// StreamConfig returns the capture format requested from the source.
func (l *Listener) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate: l.sampleRate,
		FrameSize:  int(int64(l.sampleRate) * int64(l.cfg.FrameDuration) / int64(time.Second)),
	}
}

// Capture blocks until one utterance has been captured, the no-speech cap
// elapses, or ctx is cancelled. Cancellation is reported as an interrupted
// no-speech result with a nil error. Errors are returned only for device
// failures.
func (l *Listener) Capture(ctx context.Context) (Result, error) {
	start := time.Now()
	if ctx.Err() != nil {
		return Result{Interrupted: true}, nil
	}

	det, err := endpoint.New(l.cfg)
	if err != nil {
		return Result{}, fmt.Errorf("listen: %w", err)
	}

	stream, err := l.source.Open(ctx, l.StreamConfig())
	if err != nil {
		if ctx.Err() != nil {
			return Result{Interrupted: true, Elapsed: time.Since(start)}, nil
		}
		return Result{}, fmt.Errorf("listen: open input: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("listen: failed to close input stream", "err", cerr)
		}
	}()

	for {
		frame, err := stream.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("listen: capture interrupted", "had_speech", det.HasSpoken())
				return Result{Interrupted: true, Elapsed: time.Since(start)}, nil
			}
			return Result{}, fmt.Errorf("listen: read frame: %w", err)
		}

		switch det.ProcessFrame(frame) {
		case endpoint.UtteranceComplete:
			u := det.Utterance()
			slog.Debug("listen: utterance complete",
				"frames", len(u.Frames),
				"audio", u.Duration(),
				"last_energy", det.LastEnergy(),
			)
			return Result{Utterance: u, Elapsed: time.Since(start)}, nil
		case endpoint.NoSpeechTimeout:
			return Result{TimedOut: true, Elapsed: time.Since(start)}, nil
		}
	}
}

// Package endpoint decides, frame by frame, when a spoken utterance has ended.
//
// [Detector] classifies each frame by its RMS energy. The first frame at or
// above the energy threshold marks the turn as spoken; afterwards the turn
// ends once a trailing run of quiet frames reaches the configured pause
// duration. Any loud frame resets that run. There is no minimum speech
// duration: a single loud frame followed by silence is an utterance.
//
// A Detector holds per-turn state and is not safe for concurrent use. Call
// [Detector.Reset] (or create a new Detector) at the start of every turn.
package endpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Default tuning values.
const (
	DefaultEnergyThreshold = 0.01
	DefaultPauseDuration   = 1200 * time.Millisecond
	DefaultFrameDuration   = 200 * time.Millisecond
)

// Decision is the outcome of feeding one frame to a [Detector].
type Decision int

const (
	// Continue means the turn is still in progress; keep reading frames.
	Continue Decision = iota

	// UtteranceComplete means speech was observed and the trailing silence
	// reached the pause duration (or the utterance hit its length cap).
	UtteranceComplete

	// NoSpeechTimeout means no speech was observed before the configured
	// no-speech cap elapsed. Only emitted when the cap is non-zero.
	NoSpeechTimeout
)

// String returns the human-readable name of the decision.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case UtteranceComplete:
		return "utterance_complete"
	case NoSpeechTimeout:
		return "no_speech_timeout"
	default:
		return "unknown"
	}
}

// Config holds the detector's tuning knobs.
type Config struct {
	// EnergyThreshold is the RMS level (normalised samples, 0..1) at or above
	// which a frame counts as speech.
	EnergyThreshold float64

	// PauseDuration is the trailing silence that ends an utterance.
	PauseDuration time.Duration

	// FrameDuration is the nominal length of one frame. Silence accumulates
	// by this amount per quiet frame.
	FrameDuration time.Duration

	// NoSpeechTimeout caps how long the detector waits for the first loud
	// frame. Zero waits forever.
	NoSpeechTimeout time.Duration

	// MaxUtterance caps the buffered audio once speech has started. Zero
	// means unbounded.
	MaxUtterance time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: DefaultEnergyThreshold,
		PauseDuration:   DefaultPauseDuration,
		FrameDuration:   DefaultFrameDuration,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.EnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("energy threshold must be positive, got %v", c.EnergyThreshold))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("frame duration must be positive, got %v", c.FrameDuration))
	}
	if c.PauseDuration <= 0 {
		errs = append(errs, fmt.Errorf("pause duration must be positive, got %v", c.PauseDuration))
	}
	if c.NoSpeechTimeout < 0 {
		errs = append(errs, fmt.Errorf("no-speech timeout must not be negative, got %v", c.NoSpeechTimeout))
	}
	if c.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("max utterance must not be negative, got %v", c.MaxUtterance))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	return nil
}

// Detector is the per-turn endpoint state machine.
type Detector struct {
	cfg Config

	hasSpoken      bool
	silenceElapsed time.Duration
	spokenElapsed  time.Duration // audio since the first loud frame
	lastEnergy     float64
	buf            audio.Utterance
}

// New returns a Detector for cfg.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Reset clears all per-turn state and the buffered audio.
func (d *Detector) Reset() {
	d.hasSpoken = false
	d.silenceElapsed = 0
	d.spokenElapsed = 0
	d.lastEnergy = 0
	d.buf = audio.Utterance{}
}

// ProcessFrame buffers f, updates the speech/silence state from its energy and
// then reports whether the turn is complete. The frame that completes the
// turn is part of the buffer.
func (d *Detector) ProcessFrame(f audio.Frame) Decision {
	d.buf.Append(f)

	d.lastEnergy = audio.RMS(f.Samples)
	if d.lastEnergy >= d.cfg.EnergyThreshold {
		d.hasSpoken = true
		d.silenceElapsed = 0
	} else {
		d.silenceElapsed += d.cfg.FrameDuration
	}
	if d.hasSpoken {
		d.spokenElapsed += d.cfg.FrameDuration
	}

	switch {
	case d.hasSpoken && d.silenceElapsed >= d.cfg.PauseDuration:
		return UtteranceComplete
	case d.hasSpoken && d.cfg.MaxUtterance > 0 && d.spokenElapsed >= d.cfg.MaxUtterance:
		return UtteranceComplete
	case !d.hasSpoken && d.cfg.NoSpeechTimeout > 0 && d.silenceElapsed >= d.cfg.NoSpeechTimeout:
		return NoSpeechTimeout
	default:
		return Continue
	}
}

// HasSpoken reports whether any frame in this turn reached the threshold.
func (d *Detector) HasSpoken() bool { return d.hasSpoken }

// SilenceElapsed returns the current run of trailing silence.
func (d *Detector) SilenceElapsed() time.Duration { return d.silenceElapsed }

// LastEnergy returns the RMS energy of the most recent frame.
func (d *Detector) LastEnergy() float64 { return d.lastEnergy }

// Utterance returns the buffered audio if speech was observed, or nil when the
// turn contained no speech. The returned value is owned by the caller; the
// detector starts a fresh buffer on the next Reset.
func (d *Detector) Utterance() *audio.Utterance {
	if !d.hasSpoken {
		return nil
	}
	u := d.buf
	return &u
}

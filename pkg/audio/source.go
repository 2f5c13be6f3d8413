// Package audio defines the device boundary of voxloop: where microphone
// frames come from and where synthesized speech goes.
//
// The two primary abstractions are:
//
//   - [Source] opens a capture [Stream] that yields fixed-duration [Frame]
//     values from a live input device.
//   - [Player] renders a channel of 16-bit PCM chunks to an output device,
//     blocking until playback has finished.
//
// Implementations are provided by device-specific packages (e.g.
// audio/portaudio). The interfaces are intentionally narrow so that the turn
// loop can be exercised in tests with the in-memory doubles from audio/mock.
package audio

import "context"

// StreamConfig describes the capture format requested from a [Source].
type StreamConfig struct {
	// SampleRate in Hz. Transcription engines generally expect 16000.
	SampleRate int

	// FrameSize is the number of mono samples delivered per [Frame]. Together
	// with SampleRate it fixes the frame cadence (3200 samples at 16 kHz is
	// one 200 ms frame).
	FrameSize int
}

// Source opens capture streams on an input device.
//
// Implementations must be safe for concurrent use, although voxloop only ever
// holds one open stream at a time.
type Source interface {
	// Open acquires the input device and starts capturing. The caller owns the
	// returned [Stream] and must Close it on every exit path.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is an open capture session.
type Stream interface {
	// ReadFrame blocks until the next frame is available. Frames are delivered
	// in strict arrival order. When ctx is cancelled ReadFrame returns
	// ctx.Err() without waiting for further audio.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close stops capturing and releases the device. Calling Close more than
	// once is safe; later calls return nil.
	Close() error
}

// Player renders synthesized speech to an output device.
type Player interface {
	// Play consumes pcm until the channel is closed and blocks until the last
	// chunk has been rendered. Chunks are 16-bit signed little-endian PCM in
	// the given format. If ctx is cancelled Play stops early, drains the
	// remaining chunks in the background and returns ctx.Err().
	Play(ctx context.Context, pcm <-chan []byte, format Format) error
}

// Device is a combined input and output device, such as a local sound card.
// The caller owns it and must Close it when the loop ends.
type Device interface {
	Source
	Player
	Close() error
}

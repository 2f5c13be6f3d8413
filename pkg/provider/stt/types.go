package stt

import (
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Request is one utterance submitted for transcription.
type Request struct {
	// Samples is the mono waveform normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language is a BCP-47 hint (e.g. "en"). Empty lets the provider use its
	// configured default or auto-detect.
	Language string
}

// Duration returns the length of audio in the request.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// PCM16 returns the request audio as 16-bit little-endian PCM.
func (r Request) PCM16() []byte {
	return audio.Float32ToPCM16(r.Samples)
}

// WAV returns the request audio as a mono 16-bit WAV file, the upload format
// all HTTP backends accept.
func (r Request) WAV() []byte {
	return audio.EncodeWAV(r.PCM16(), audio.Format{SampleRate: r.SampleRate, Channels: 1})
}

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the transcribed speech content, as returned by the engine.
	Text string

	// Language is the detected or requested language, if the engine reports it.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

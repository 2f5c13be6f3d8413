// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription engine (a local whisper.cpp
// model, a whisper.cpp server, or a hosted API) and exposes one uniform call:
// hand over a complete utterance, receive its text. voxloop never streams
// partial audio to the engine; each turn is transcribed only after the
// endpoint detector has decided it is over.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one complete utterance to text. The returned text is
	// the engine's best effort; it may be empty when nothing intelligible was
	// said. Language detection, punctuation and casing are up to the engine.
	//
	// Returns an error if the engine is unreachable, rejects the request, or
	// ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

package audio

import "time"

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is one fixed-duration chunk of mono audio read from a capture
// [Stream]. Frames are the atomic unit the endpoint detector consumes.
type Frame struct {
	// Samples are mono amplitudes normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks the frame's start, relative to the stream's start.
	Timestamp time.Duration
}

// Duration returns the length of audio the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is the ordered sequence of frames captured for one turn.
// It is handed to transcription once and then discarded.
type Utterance struct {
	Frames     []Frame
	SampleRate int
}

// Append adds f to the end of the utterance.
func (u *Utterance) Append(f Frame) {
	if u.SampleRate == 0 {
		u.SampleRate = f.SampleRate
	}
	u.Frames = append(u.Frames, f)
}

// Len returns the total number of samples across all frames.
func (u *Utterance) Len() int {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	return n
}

// Samples concatenates all frames into one contiguous waveform.
func (u *Utterance) Samples() []float32 {
	out := make([]float32, 0, u.Len())
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Duration returns the length of audio held by the utterance.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(u.Len()) * time.Second / time.Duration(u.SampleRate)
}

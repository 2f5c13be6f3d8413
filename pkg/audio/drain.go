package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a synthesis goroutine whose output is no longer wanted,
// e.g. after playback was cancelled mid-reply.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads ch until it is closed and returns the concatenated chunks.
func Collect(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

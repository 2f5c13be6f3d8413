// Package dispatch turns captured speech into text and conversation history
// into a reply.
//
// [Transcriber] and [Responder] sit between the turn loop and the provider
// interfaces. They normalise provider output (whitespace, empty replies),
// classify failures behind two sentinels and record per-call metrics. Neither
// retries; failover is configured as a provider chain (see package
// resilience).
package dispatch

import (
	"errors"

	"github.com/MrWong99/voxloop/internal/observe"
)

var (
	// ErrTranscription wraps every failure of the speech-to-text engine.
	ErrTranscription = errors.New("dispatch: transcription failed")

	// ErrResponse wraps every failure to obtain a usable reply: the service
	// being unreachable, rejecting the credentials, answering with an error
	// status, or returning nothing.
	ErrResponse = errors.New("dispatch: response failed")
)

type options struct {
	name        string
	metrics     *observe.Metrics
	language    string
	temperature float64
	maxTokens   int
}

// Option configures a [Transcriber] or [Responder].
type Option func(*options)

// WithProviderName labels metrics and logs with the backend's name.
func WithProviderName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMetrics records call latency and outcomes into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLanguage sets the language hint sent with every transcription.
// Transcriber only.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithTemperature sets the sampling temperature. Responder only.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens caps the reply length. Zero leaves it to the backend.
// Responder only.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

func newOptions(opts []Option) options {
	o := options{name: "default"}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Package observe provides the observability primitives of voxloop:
// OpenTelemetry metrics for every stage of a turn, tracing helpers, a
// trace-aware logger and HTTP middleware for the status server.
//
// Metrics go through the OpenTelemetry Metrics API. [InitProvider] installs a
// Prometheus exporter so they can be scraped from /metrics. Tests should build
// their own [Metrics] with [NewMetrics] and a private MeterProvider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voxloop instrument.
const meterName = "github.com/MrWong99/voxloop"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// Turn outcomes used as the "outcome" attribute of [Metrics.Turns].
const (
	OutcomeCompleted  = "completed"
	OutcomeNoSpeech   = "no_speech"
	OutcomeEmpty      = "empty_transcript"
	OutcomeSTTFailed  = "stt_failed"
	OutcomeLLMFailed  = "llm_failed"
	OutcomeTTSFailed  = "tts_failed"
	OutcomeTerminated = "terminated"
)

// Metrics holds the OpenTelemetry instruments for the turn loop. All fields
// are safe for concurrent use.
type Metrics struct {
	// ── stage latency ──

	// CaptureDuration is the wall time from opening the microphone until the
	// endpoint detector ends the capture.
	CaptureDuration metric.Float64Histogram

	// UtteranceLength is the length of captured audio handed to transcription.
	UtteranceLength metric.Float64Histogram

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram

	// TTSDuration covers synthesis and playback (or file write) of one reply.
	TTSDuration metric.Float64Histogram

	// ── counters ──

	// Turns counts finished turns by attribute "outcome".
	Turns metric.Int64Counter

	// ProviderRequests counts provider calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// ── http ──

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Whole turns of a voice
// loop sit between a few hundred milliseconds and tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "voxloop.capture.duration", "Time spent listening for one utterance."},
		{&met.UtteranceLength, "voxloop.utterance.length", "Length of captured utterances."},
		{&met.STTDuration, "voxloop.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "voxloop.llm.duration", "Latency of response generation."},
		{&met.TTSDuration, "voxloop.tts.duration", "Time to synthesise and deliver one reply."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	if met.Turns, err = m.Int64Counter("voxloop.turns",
		metric.WithDescription("Finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxloop.provider.requests",
		metric.WithDescription("Provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxloop.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxloop.http.request.duration",
		metric.WithDescription("Status server latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from the global MeterProvider. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordProviderCall records latency into h and counts the call, plus an
// error when err is non-nil.
func (m *Metrics) RecordProviderCall(ctx context.Context, h metric.Float64Histogram, provider, kind string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	h.Record(ctx, elapsed.Seconds(), metric.WithAttributes(Attr("provider", provider)))
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// Package turn sequences the voice conversation.
//
// One turn runs capture → transcription → termination check → response →
// speech, strictly in that order, and the [Driver] loops turns until the user
// says a termination phrase or the process is interrupted. When the loop
// ends, the session history is handed to the session logger.
//
// Recoverable failures (nothing was said, the transcript is empty, a service
// fails) end the current turn and the loop starts listening again. Only a
// capture device failure, an interrupt or the termination phrase end the
// session.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxloop/internal/conversation"
	"github.com/MrWong99/voxloop/internal/listen"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/sessionlog"
	"github.com/MrWong99/voxloop/pkg/audio"
)

// Capturer records one endpoint-detected utterance. [listen.Listener]
// implements it.
type Capturer interface {
	Capture(ctx context.Context) (listen.Result, error)
}

// Transcriber turns an utterance into trimmed text; "" means nothing was
// understood. [dispatch.Transcriber] implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, u *audio.Utterance) (string, error)
}

// Responder produces the assistant's reply to the history.
// [dispatch.Responder] implements it.
type Responder interface {
	Respond(ctx context.Context, history []conversation.Turn) (string, error)
}

// Speaker delivers a reply and blocks until it has been played or written.
// [speech.Dispatcher] implements it.
type Speaker interface {
	Speak(ctx context.Context, text, backend, destination string) error
}

// Deps are the collaborators of a [Driver]. All are required except Logger,
// which defaults to [sessionlog.Discard].
type Deps struct {
	Capturer    Capturer
	Transcriber Transcriber
	Responder   Responder
	Speaker     Speaker
	Session     *conversation.Session
	Logger      sessionlog.Logger
}

// Option configures a [Driver].
type Option func(*Driver)

// WithBackend selects the speech backend by name. Empty uses the speaker's
// default.
func WithBackend(name string) Option {
	return func(d *Driver) { d.backend = name }
}

// WithOutputFile writes every reply to path instead of playing it.
func WithOutputFile(path string) Option {
	return func(d *Driver) { d.destination = path }
}

// WithMetrics records turn metrics into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock replaces time.Now for the session end timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver runs the turn state machine. Run and Step must be called from one
// goroutine; State may be read from any.
type Driver struct {
	deps        Deps
	backend     string
	destination string
	metrics     *observe.Metrics
	now         func() time.Time

	state atomic.Int32
}

// New validates deps and returns an idle driver.
func New(deps Deps, opts ...Option) (*Driver, error) {
	var missing []error
	if deps.Capturer == nil {
		missing = append(missing, errors.New("capturer"))
	}
	if deps.Transcriber == nil {
		missing = append(missing, errors.New("transcriber"))
	}
	if deps.Responder == nil {
		missing = append(missing, errors.New("responder"))
	}
	if deps.Speaker == nil {
		missing = append(missing, errors.New("speaker"))
	}
	if deps.Session == nil {
		missing = append(missing, errors.New("session"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("turn: missing dependencies: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = sessionlog.Discard{}
	}

	d := &Driver{deps: deps, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// State returns the current stage.
func (d *Driver) State() State { return State(d.state.Load()) }

func (d *Driver) setState(s State) { d.state.Store(int32(s)) }

// Run loops turns until the session ends, then logs it. The session is
// logged even when ctx has been cancelled. A non-nil error means the capture
// device failed or the log could not be written.
func (d *Driver) Run(ctx context.Context) error {
	if d.State() == Terminated {
		return nil
	}
	observe.Logger(ctx).Info("turn: conversation started")
	for {
		done, err := d.Step(ctx)
		if done || err != nil {
			return errors.Join(err, d.finish(ctx))
		}
	}
}

// Step runs one turn and reports whether the session is over. The returned
// error is non-nil only for capture device failures, which also end the
// session.
func (d *Driver) Step(ctx context.Context) (done bool, err error) {
	if d.State() == Terminated {
		return true, nil
	}
	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()

	outcome, done, err := d.step(ctx)
	span.SetAttributes(attribute.String("turn.outcome", outcome))
	if err != nil {
		span.RecordError(err)
	}
	d.metrics.RecordTurn(ctx, outcome)
	if !done {
		d.setState(Idle)
	}
	return done, err
}

func (d *Driver) step(ctx context.Context) (outcome string, done bool, err error) {
	log := observe.Logger(ctx)

	d.setState(CapturingUtterance)
	res, err := d.deps.Capturer.Capture(ctx)
	d.metrics.CaptureDuration.Record(ctx, res.Elapsed.Seconds())
	if err != nil {
		return observe.OutcomeTerminated, true, fmt.Errorf("turn: capture: %w", err)
	}
	if res.NoSpeech() {
		if res.Interrupted || ctx.Err() != nil {
			log.Info("turn: interrupted while listening")
			return observe.OutcomeTerminated, true, nil
		}
		log.Debug("turn: no speech detected", "timed_out", res.TimedOut)
		return observe.OutcomeNoSpeech, false, nil
	}
	d.metrics.UtteranceLength.Record(ctx, res.Utterance.Duration().Seconds())

	d.setState(Transcribing)
	text, err := d.deps.Transcriber.Transcribe(ctx, res.Utterance)
	switch {
	case ctx.Err() != nil:
		return observe.OutcomeTerminated, true, nil
	case err != nil:
		log.Warn("turn: transcription failed", "err", err)
		return observe.OutcomeSTTFailed, false, nil
	case text == "":
		log.Debug("turn: empty transcription", "audio", res.Utterance.Duration())
		return observe.OutcomeEmpty, false, nil
	}
	log.Info("turn: user said", "text", text)

	d.deps.Session.AppendUser(text)
	if d.deps.Session.ShouldTerminate(text) {
		log.Info("turn: termination phrase heard")
		return observe.OutcomeTerminated, true, nil
	}

	d.setState(AwaitingResponse)
	reply, err := d.deps.Responder.Respond(ctx, d.deps.Session.Snapshot())
	switch {
	case ctx.Err() != nil:
		return observe.OutcomeTerminated, true, nil
	case err != nil:
		log.Warn("turn: no reply", "err", err)
		return observe.OutcomeLLMFailed, false, nil
	}
	d.deps.Session.AppendAssistant(reply)
	log.Debug("turn: assistant replied", "text", reply)

	d.setState(Speaking)
	err = d.deps.Speaker.Speak(ctx, reply, d.backend, d.destination)
	switch {
	case ctx.Err() != nil:
		return observe.OutcomeTerminated, true, nil
	case err != nil:
		log.Warn("turn: speech failed", "err", err)
		return observe.OutcomeTTSFailed, false, nil
	}
	return observe.OutcomeCompleted, false, nil
}

// finish marks the driver terminated and logs the session.
func (d *Driver) finish(ctx context.Context) error {
	d.setState(Terminated)
	rec := sessionlog.Record{
		StartedAt: d.deps.Session.StartedAt(),
		EndedAt:   d.now(),
		Turns:     d.deps.Session.Snapshot(),
	}
	if err := d.deps.Logger.Log(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("turn: log session: %w", err)
	}
	observe.Logger(ctx).Info("turn: conversation ended",
		"turns", len(rec.Turns)-1,
		"duration", rec.EndedAt.Sub(rec.StartedAt).Round(time.Second),
	)
	return nil
}

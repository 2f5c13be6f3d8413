package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// Transcriber converts a finished utterance to text.
type Transcriber struct {
	provider stt.Provider
	opts     options
}

// NewTranscriber wraps p.
func NewTranscriber(p stt.Provider, opts ...Option) (*Transcriber, error) {
	if p == nil {
		return nil, errors.New("dispatch: stt provider must not be nil")
	}
	return &Transcriber{provider: p, opts: newOptions(opts)}, nil
}

// Transcribe returns the trimmed text of u. Nothing intelligible is not an
// error: it yields "" and nil. Engine failures wrap [ErrTranscription].
func (t *Transcriber) Transcribe(ctx context.Context, u *audio.Utterance) (string, error) {
	if u == nil || u.Len() == 0 {
		return "", nil
	}
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	req := stt.Request{
		Samples:    u.Samples(),
		SampleRate: u.SampleRate,
		Language:   t.opts.language,
	}
	start := time.Now()
	tr, err := t.provider.Transcribe(ctx, req)
	t.opts.metrics.RecordProviderCall(ctx, t.opts.metrics.STTDuration, t.opts.name, observe.KindSTT, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %s: %w", ErrTranscription, t.opts.name, err)
	}

	text := strings.TrimSpace(tr.Text)
	observe.Logger(ctx).Debug("dispatch: transcribed",
		"provider", t.opts.name,
		"audio", req.Duration(),
		"chars", len(text),
		"language", tr.Language,
		"elapsed", time.Since(start),
	)
	return text, nil
}

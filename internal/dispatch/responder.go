package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxloop/internal/conversation"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
)

// errEmptyReply is the cause wrapped in [ErrResponse] when the service
// answered without usable text.
var errEmptyReply = errors.New("empty reply")

// Responder asks the language model for the next assistant turn.
type Responder struct {
	provider llm.Provider
	opts     options
}

// NewResponder wraps p.
func NewResponder(p llm.Provider, opts ...Option) (*Responder, error) {
	if p == nil {
		return nil, errors.New("dispatch: llm provider must not be nil")
	}
	return &Responder{provider: p, opts: newOptions(opts)}, nil
}

// Respond sends the whole ordered history and returns the trimmed reply.
// Every failure, including an empty reply, wraps [ErrResponse].
func (r *Responder) Respond(ctx context.Context, history []conversation.Turn) (string, error) {
	ctx, span := observe.StartSpan(ctx, "llm.complete")
	defer span.End()

	req := llm.CompletionRequest{
		Messages:    Messages(history),
		Temperature: r.opts.temperature,
		MaxTokens:   r.opts.maxTokens,
	}
	r.checkBudget(ctx, req)

	start := time.Now()
	resp, err := r.provider.Complete(ctx, req)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errEmptyReply
	}
	r.opts.metrics.RecordProviderCall(ctx, r.opts.metrics.LLMDuration, r.opts.name, observe.KindLLM, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %s: %w", ErrResponse, r.opts.name, err)
	}

	observe.Logger(ctx).Debug("dispatch: reply received",
		"provider", r.opts.name,
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)
	return strings.TrimSpace(resp.Content), nil
}

// checkBudget warns when the history no longer fits the model's window. The
// request is still sent; the service decides whether to truncate or refuse.
func (r *Responder) checkBudget(ctx context.Context, req llm.CompletionRequest) {
	window := r.provider.Capabilities().ContextWindow
	if window <= 0 {
		return
	}
	n, err := r.provider.CountTokens(req.Messages)
	if err != nil {
		return
	}
	if n+req.MaxTokens > window {
		observe.Logger(ctx).Warn("dispatch: history exceeds context window",
			"tokens", n,
			"max_tokens", req.MaxTokens,
			"context_window", window,
		)
	}
}

// Messages converts history to the provider's message form, preserving order.
func Messages(history []conversation.Turn) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, t := range history {
		out[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}

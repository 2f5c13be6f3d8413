// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Results: []stt.Transcript{{Text: "hello"}}}
//	tr, _ := p.Transcribe(ctx, req)
//	// len(p.Calls) == 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, the last
	// result is repeated. An empty slice yields a zero Transcript.
	Results []stt.Transcript

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	if len(p.Results) == 0 {
		return stt.Transcript{}, nil
	}
	idx := min(len(p.Calls)-1, len(p.Results)-1)
	return p.Results[idx], nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)

package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/voxloop/internal/conversation"
	"github.com/MrWong99/voxloop/internal/dispatch"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloop/pkg/provider/llm/mock"
)

func history() []conversation.Turn {
	s := conversation.New("Be brief.")
	s.AppendUser("What's the weather")
	s.AppendAssistant("It's sunny")
	s.AppendUser("And tomorrow?")
	return s.Snapshot()
}

func TestRespond_SendsOrderedHistory(t *testing.T) {
	p := &llmmock.Provider{Replies: []string{"  Rain, probably.\n"}}
	r, err := dispatch.NewResponder(p, dispatch.WithTemperature(0.7), dispatch.WithMaxTokens(150))
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	got, err := r.Respond(context.Background(), history())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "Rain, probably." {
		t.Errorf("reply = %q", got)
	}

	req := p.Calls()[0].Req
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "Be brief."},
		{Role: llm.RoleUser, Content: "What's the weather"},
		{Role: llm.RoleAssistant, Content: "It's sunny"},
		{Role: llm.RoleUser, Content: "And tomorrow?"},
	}
	if len(req.Messages) != len(want) {
		t.Fatalf("messages = %+v", req.Messages)
	}
	for i := range want {
		if req.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, req.Messages[i], want[i])
		}
	}
	if req.Temperature != 0.7 || req.MaxTokens != 150 {
		t.Errorf("temperature %v max tokens %d", req.Temperature, req.MaxTokens)
	}
}

func TestRespond_Failures(t *testing.T) {
	cause := errors.New("401 unauthorized")
	tests := []struct {
		name string
		p    llm.Provider
	}{
		{"service error", &llmmock.Provider{CompleteErr: cause}},
		{"missing credential", llm.Unavailable{}},
		{"nil response", &llmmock.Provider{}},
		{"blank reply", &llmmock.Provider{Replies: []string{"   "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := dispatch.NewResponder(tt.p)
			got, err := r.Respond(context.Background(), history())
			if !errors.Is(err, dispatch.ErrResponse) {
				t.Errorf("err = %v, want ErrResponse", err)
			}
			if got != "" {
				t.Errorf("reply = %q, want empty", got)
			}
		})
	}
}

func TestRespond_MissingCredentialIsIdentifiable(t *testing.T) {
	r, _ := dispatch.NewResponder(llm.Unavailable{})
	_, err := r.Respond(context.Background(), history())
	if !errors.Is(err, llm.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential in chain", err)
	}
}

func TestRespond_WarnsWhenHistoryExceedsWindow(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	p := &llmmock.Provider{
		Replies:           []string{"ok"},
		TokenCount:        900,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 1000},
	}
	r, _ := dispatch.NewResponder(p, dispatch.WithMaxTokens(200))
	if _, err := r.Respond(context.Background(), history()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(buf.String(), "exceeds context window") {
		t.Errorf("no warning logged: %s", buf.String())
	}
}

func TestNewResponder_NilProvider(t *testing.T) {
	if _, err := dispatch.NewResponder(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

package resilience

import (
	"context"
	"testing"

	"github.com/MrWong99/voxloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloop/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	tests := []struct {
		name    string
		primary *llmmock.Provider
		want    string
	}{
		{"primary answers", &llmmock.Provider{Replies: []string{"from primary"}}, "from primary"},
		{"primary errors", &llmmock.Provider{CompleteErr: errTest}, "from fallback"},
		{"primary returns nothing", &llmmock.Provider{}, "from fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewLLMFallback(tt.primary, "openai", FallbackConfig{})
			fb.AddFallback("ollama", &llmmock.Provider{Replies: []string{"from fallback"}})

			resp, err := fb.Complete(context.Background(), req)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("Content = %q, want %q", resp.Content, tt.want)
			}
		})
	}
}

func TestLLMFallback_MetadataFromPrimary(t *testing.T) {
	primary := &llmmock.Provider{TokenCount: 42, ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8192}}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("ollama", &llmmock.Provider{TokenCount: 7})

	if n, _ := fb.CountTokens(nil); n != 42 {
		t.Errorf("CountTokens = %d, want 42", n)
	}
	if fb.Capabilities().ContextWindow != 8192 {
		t.Errorf("Capabilities = %+v", fb.Capabilities())
	}
}

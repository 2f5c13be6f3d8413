package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxloop/internal/speech"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
)

var catalogue = []tts.VoiceProfile{
	{ID: "en-us", Name: "English (America)"},
	{ID: "de", Name: "German"},
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"},
}

func TestMatchVoice(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		wantID string
		wantOK bool
	}{
		{"exact id", "de", "de", true},
		{"exact name any case", "rachel", "21m00Tcm4TlvDq8ikWAM", true},
		{"substring", "america", "en-us", true},
		{"similar spelling", "Rachael", "21m00Tcm4TlvDq8ikWAM", true},
		{"no match", "bob", "", false},
		{"blank", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := speech.MatchVoice(catalogue, tt.query)
			if ok != tt.wantOK || v.ID != tt.wantID {
				t.Errorf("MatchVoice(%q) = %q, %v; want %q, %v", tt.query, v.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestResolveVoice(t *testing.T) {
	p := &ttsmock.Provider{ListVoicesResult: catalogue}
	d, _ := speech.NewDispatcher(map[string]tts.Provider{"espeak": p}, nil, "espeak")

	v, err := d.ResolveVoice(context.Background(), "", "german")
	if err != nil || v.ID != "de" {
		t.Errorf("ResolveVoice = %+v, %v", v, err)
	}
	if _, err := d.ResolveVoice(context.Background(), "", "klingon"); !errors.Is(err, speech.ErrVoiceNotFound) {
		t.Errorf("err = %v, want ErrVoiceNotFound", err)
	}
	if _, err := d.ResolveVoice(context.Background(), "coqui", "x"); !errors.Is(err, speech.ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}

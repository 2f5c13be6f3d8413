package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// ErrVoiceNotFound is returned by [Dispatcher.ResolveVoice] when no voice of
// the backend resembles the requested name.
var ErrVoiceNotFound = errors.New("speech: voice not found")

// similarityThreshold is the lowest Jaro-Winkler score accepted as a match.
const similarityThreshold = 0.85

// ResolveVoice looks name up among the voices of backend ("" selects the
// default) and returns the best match. See [MatchVoice].
func (d *Dispatcher) ResolveVoice(ctx context.Context, backend, name string) (tts.VoiceProfile, error) {
	if backend == "" {
		backend = d.defaultBackend
	}
	p, ok := d.backends[backend]
	if !ok {
		return tts.VoiceProfile{}, fmt.Errorf("%w %q", ErrUnknownBackend, backend)
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return tts.VoiceProfile{}, fmt.Errorf("speech: list %s voices: %w", backend, err)
	}
	v, ok := MatchVoice(voices, name)
	if !ok {
		return tts.VoiceProfile{}, fmt.Errorf("%w: %q on %s", ErrVoiceNotFound, name, backend)
	}
	return v, nil
}

// MatchVoice picks the voice that best fits name. An exact ID or name wins,
// then the first voice whose ID or name contains name (ignoring case), then
// the most similar name by Jaro-Winkler score of at least 0.85 or by equal
// Double Metaphone code ("Alyce" finds "Alice").
func MatchVoice(voices []tts.VoiceProfile, name string) (tts.VoiceProfile, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return tts.VoiceProfile{}, false
	}
	for _, v := range voices {
		if strings.EqualFold(v.ID, want) || strings.EqualFold(v.Name, want) {
			return v, true
		}
	}
	for _, v := range voices {
		if strings.Contains(strings.ToLower(v.ID), want) || strings.Contains(strings.ToLower(v.Name), want) {
			return v, true
		}
	}

	wantCode, _ := matchr.DoubleMetaphone(want)
	best, bestScore := -1, 0.0
	for i, v := range voices {
		label := strings.ToLower(v.Name)
		if label == "" {
			label = strings.ToLower(v.ID)
		}
		score := matchr.JaroWinkler(want, label, false)
		if code, _ := matchr.DoubleMetaphone(label); code != "" && code == wantCode {
			score = max(score, similarityThreshold)
		}
		if score >= similarityThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return tts.VoiceProfile{}, false
	}
	return voices[best], true
}

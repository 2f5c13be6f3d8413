// Package conversation owns the ordered turn history of one voice session.
//
// A [Session] always starts with exactly one system turn carrying the persona
// instruction. User and assistant turns are appended in chronological order
// and never reordered or removed. The session also decides whether a user
// utterance is the phrase that ends the conversation.
package conversation

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultSystemPrompt is the persona used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Always reply in a casual, conversational tone. " +
	"Keep it short and friendly, never go over 100 words. Be direct and easy to understand."

// DefaultTerminationPhrases end the session when found in a user utterance.
var DefaultTerminationPhrases = []string{"goodbye", "good bye"}

// ExactPrefix marks a termination phrase that must be the whole utterance:
// "=exit" ends the session on "Exit." but not on "how do I exit vim".
const ExactPrefix = "="

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one unit of dialogue. Turns are values; once appended they are
// never modified.
type Turn struct {
	Role    Role
	Content string
}

// Session holds the history of one conversation.
//
// The turn loop is the only writer. Reads are safe from other goroutines
// (e.g. a status endpoint) because every accessor takes the lock.
type Session struct {
	mu        sync.RWMutex
	turns     []Turn
	phrases   []string
	exact     []string
	startedAt time.Time
}

// Option is a functional option for [New].
type Option func(*Session)

// WithTerminationPhrases overrides [DefaultTerminationPhrases]. Empty phrases
// are ignored; matching is case-insensitive. A phrase starting with
// [ExactPrefix] only matches an utterance consisting of nothing else.
func WithTerminationPhrases(phrases ...string) Option {
	return func(s *Session) {
		s.phrases, s.exact = nil, nil
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if rest, ok := strings.CutPrefix(p, ExactPrefix); ok {
				if rest = strings.TrimSpace(rest); rest != "" {
					s.exact = append(s.exact, rest)
				}
				continue
			}
			if p != "" {
				s.phrases = append(s.phrases, p)
			}
		}
	}
}

// WithStartTime sets the session start timestamp. Defaults to time.Now().
func WithStartTime(t time.Time) Option {
	return func(s *Session) { s.startedAt = t }
}

// New creates a session whose first turn is the system prompt. An empty
// prompt falls back to [DefaultSystemPrompt].
func New(systemPrompt string, opts ...Option) *Session {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	s := &Session{
		turns:     []Turn{{Role: RoleSystem, Content: systemPrompt}},
		phrases:   slices.Clone(DefaultTerminationPhrases),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AppendUser appends a user turn.
func (s *Session) AppendUser(text string) { s.append(RoleUser, text) }

// AppendAssistant appends an assistant turn.
func (s *Session) AppendAssistant(text string) { s.append(RoleAssistant, text) }

func (s *Session) append(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Content: text})
}

// ShouldTerminate reports whether text contains a termination phrase,
// ignoring case. "GOODBYE!" and "good bye then" match; "good, buy milk" does
// not. Exact phrases are compared against text with surrounding spaces and
// punctuation removed.
func (s *Session) ShouldTerminate(text string) bool {
	lower := strings.ToLower(text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if len(s.exact) > 0 {
		bare := strings.TrimFunc(lower, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsPunct(r) })
		if slices.Contains(s.exact, bare) {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the history. The system turn is always at
// index 0.
func (s *Session) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.turns)
}

// Len returns the number of turns, including the system turn.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

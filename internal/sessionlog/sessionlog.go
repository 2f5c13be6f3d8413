// Package sessionlog persists finished conversations.
//
// A [Record] is a snapshot of a session's history bounded by its start and end
// timestamps. It is created once, when the session ends, and never mutated.
// [FileLogger] appends records to one plain-text file per calendar date;
// [PostgresLogger] mirrors them into a database; [Multi] fans out to several
// loggers.
package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxloop/internal/conversation"
)

// Record is the persisted form of one finished session.
type Record struct {
	StartedAt time.Time
	EndedAt   time.Time
	Turns     []conversation.Turn
}

// Logger persists session records. Implementations must only ever append;
// previously written records are never rewritten.
type Logger interface {
	Log(ctx context.Context, rec Record) error
}

// Multi writes every record to each logger in order. All loggers are
// attempted even if an earlier one fails; the errors are joined.
type Multi []Logger

// Log implements [Logger].
func (m Multi) Log(ctx context.Context, rec Record) error {
	var errs []error
	for _, l := range m {
		if err := l.Log(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sessionlog: %w", err)
	}
	return nil
}

// Discard drops every record. Used when logging is disabled.
type Discard struct{}

// Log implements [Logger].
func (Discard) Log(context.Context, Record) error { return nil }

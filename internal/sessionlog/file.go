package sessionlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// FileLogger appends records to <dir>/conversation_<YYYY-MM-DD>.txt, keyed by
// the session's start date in the logger's location.
//
// Each record is one block:
//
//	[Conversation Started at 2024-03-01 09:30:00]
//	system:
//	You are a helpful assistant...
//	user:
//	What's the weather
//	[Conversation Ended at 2024-03-01 09:31:12]
//	<blank line>
//
// The block is rendered in memory and written with a single O_APPEND write,
// so earlier content in the file is never disturbed.
type FileLogger struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

// FileOption is a functional option for [NewFileLogger].
type FileOption func(*FileLogger)

// WithLocation sets the time zone used for timestamps and file dates.
// Default: time.Local.
func WithLocation(loc *time.Location) FileOption {
	return func(f *FileLogger) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// NewFileLogger returns a logger writing under dir. The directory is created
// on first write.
func NewFileLogger(dir string, opts ...FileOption) *FileLogger {
	f := &FileLogger{dir: dir, loc: time.Local}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Path returns the log file a session started at t is written to.
func (f *FileLogger) Path(t time.Time) string {
	return filepath.Join(f.dir, "conversation_"+t.In(f.loc).Format(dateLayout)+".txt")
}

// Log implements [Logger].
func (f *FileLogger) Log(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("sessionlog: create dir %q: %w", f.dir, err)
	}
	path := f.Path(rec.StartedAt)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sessionlog: open %q: %w", path, err)
	}
	if _, err := file.Write(f.render(rec)); err != nil {
		file.Close()
		return fmt.Errorf("sessionlog: append %q: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("sessionlog: close %q: %w", path, err)
	}
	return nil
}

func (f *FileLogger) render(rec Record) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[Conversation Started at %s]\n", rec.StartedAt.In(f.loc).Format(timestampLayout))
	for _, t := range rec.Turns {
		fmt.Fprintf(&b, "%s: \n%s\n", t.Role, t.Content)
	}
	fmt.Fprintf(&b, "[Conversation Ended at %s]\n\n", rec.EndedAt.In(f.loc).Format(timestampLayout))
	return b.Bytes()
}

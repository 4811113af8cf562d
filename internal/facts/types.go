package facts

import (
	"context"
	"errors"
	"time"
)

// Fact is a piece of information the assistant asked the host page to keep.
// The widget supplies the id; recording is idempotent per id and caller.
type Fact struct {
	ID          string    `json:"id"`
	CallerID    string    `json:"caller_id"`
	ThreadID    string    `json:"thread_id"`
	Text        string    `json:"text"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

var ErrMissingID = errors.New("fact id is required")

// Store persists facts and enforces per-id de-duplication.
type Store interface {
	// Record saves the fact unless one with the same id already exists for
	// the caller. It reports whether the fact was newly recorded.
	Record(ctx context.Context, fact Fact) (bool, error)
	List(ctx context.Context, callerID string) ([]Fact, error)
	// ClearThread drops the de-duplication memory for a caller's thread so a
	// fresh conversation can record anew.
	ClearThread(ctx context.Context, callerID, threadID string) error
	Close() error
}

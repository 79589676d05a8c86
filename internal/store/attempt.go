package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cursos_checkout/internal/models"
)

// attemptKey is the single well-known key holding the live attempt. The
// whole record is one JSON document so a write is atomic: a restart can
// never observe half an attempt.
const attemptKey = "checkout:attempt"

// ErrNoAttempt signals that no live attempt is persisted. Not an error
// condition for callers; a fresh start looks exactly like this.
var ErrNoAttempt = errors.New("store: no attempt persisted")

// AttemptStore persists the single live TransactionAttempt across process
// restarts. At most one attempt is live at a time; writing a new one
// replaces whatever was there.
type AttemptStore struct {
	kv KeyValue
}

func NewAttemptStore(kv KeyValue) *AttemptStore {
	return &AttemptStore{kv: kv}
}

// Write durably stores the attempt, replacing any previous one
func (s *AttemptStore) Write(ctx context.Context, attempt *models.TransactionAttempt) error {
	if attempt == nil || !attempt.Complete() {
		return fmt.Errorf("store: refusing to persist incomplete attempt")
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("store: failed to marshal attempt: %w", err)
	}
	return s.kv.Set(ctx, attemptKey, string(data))
}

// Read reconstructs the live attempt, or returns ErrNoAttempt. A record
// missing any required field is treated as absent, not as an error: a
// partial record must never leak into a new attempt.
func (s *AttemptStore) Read(ctx context.Context) (*models.TransactionAttempt, error) {
	raw, err := s.kv.Get(ctx, attemptKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoAttempt
		}
		return nil, fmt.Errorf("store: failed to read attempt: %w", err)
	}

	var attempt models.TransactionAttempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		return nil, ErrNoAttempt
	}
	if !attempt.Complete() {
		return nil, ErrNoAttempt
	}
	return &attempt, nil
}

// Clear removes the persisted attempt. Idempotent: clearing an already
// absent record is a no-op.
func (s *AttemptStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, attemptKey)
}

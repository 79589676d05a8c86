package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"cursos_checkout/internal/models"
)

func testAttempt() *models.TransactionAttempt {
	return &models.TransactionAttempt{
		AttemptID: "a-1",
		CourseID:  "course-42",
		Method:    models.MethodPayPal,
		PaymentID: "p-1",
		StartedAt: time.Now(),
	}
}

func TestAttemptStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewAttemptStore(NewMemoryKV())

	original := testAttempt()
	original.CheckCount = 3
	original.VerifiedAfterReturn = true
	original.ReturningFromPayment = true

	if err := s.Write(ctx, original); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.CourseID != original.CourseID || got.Method != original.Method {
		t.Errorf("Read returned %+v; want %+v", got, original)
	}
	if got.CheckCount != 3 || !got.VerifiedAfterReturn || !got.ReturningFromPayment {
		t.Errorf("poll bookkeeping not preserved: %+v", got)
	}
}

func TestAttemptStoreReadWithoutWrite(t *testing.T) {
	s := NewAttemptStore(NewMemoryKV())
	if _, err := s.Read(context.Background()); !errors.Is(err, ErrNoAttempt) {
		t.Errorf("Read on empty store returned %v; want ErrNoAttempt", err)
	}
}

func TestAttemptStoreRejectsIncompleteWrite(t *testing.T) {
	s := NewAttemptStore(NewMemoryKV())
	incomplete := &models.TransactionAttempt{AttemptID: "a-1", CourseID: "course-42"}
	if err := s.Write(context.Background(), incomplete); err == nil {
		t.Error("Write accepted an attempt without method and startedAt")
	}
}

func TestAttemptStorePartialRecordReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewAttemptStore(kv)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "{{{"},
		{name: "missing method", raw: `{"course_id":"course-42","started_at":"2026-01-02T15:04:05Z"}`},
		{name: "missing course", raw: `{"method":"paypal","started_at":"2026-01-02T15:04:05Z"}`},
		{name: "zero started_at", raw: `{"course_id":"course-42","method":"paypal"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := kv.Set(ctx, attemptKey, tt.raw); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if _, err := s.Read(ctx); !errors.Is(err, ErrNoAttempt) {
				t.Errorf("Read returned %v; want ErrNoAttempt", err)
			}
		})
	}
}

func TestAttemptStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewAttemptStore(NewMemoryKV())

	if err := s.Write(ctx, testAttempt()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear #%d failed: %v", i+1, err)
		}
		if _, err := s.Read(ctx); !errors.Is(err, ErrNoAttempt) {
			t.Errorf("after Clear #%d Read returned %v; want ErrNoAttempt", i+1, err)
		}
	}
}

func TestAttemptStoreWriteReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	s := NewAttemptStore(NewMemoryKV())

	first := testAttempt()
	first.CheckCount = 4
	if err := s.Write(ctx, first); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	second := testAttempt()
	second.AttemptID = "a-2"
	second.CourseID = "course-7"
	if err := s.Write(ctx, second); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.CourseID != "course-7" || got.CheckCount != 0 {
		t.Errorf("stale fields leaked into the new attempt: %+v", got)
	}
}

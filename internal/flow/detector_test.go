package flow

import (
	"net/url"
	"testing"
	"time"

	"cursos_checkout/internal/models"
)

func redirectAttempt(courseID string) *models.TransactionAttempt {
	return &models.TransactionAttempt{
		AttemptID: "a-1",
		CourseID:  courseID,
		Method:    models.MethodPayPal,
		StartedAt: time.Now(),
	}
}

func TestDetectReturn(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		attempt  *models.TransactionAttempt
		courseID string
		want     ReturnSignal
	}{
		{
			name:     "explicit cancel parameter",
			query:    "payment_status=cancelled",
			attempt:  redirectAttempt("course-42"),
			courseID: "course-42",
			want:     SignalCancelled,
		},
		{
			name:     "explicit cancel wins even without a record",
			query:    "payment_status=cancelled",
			attempt:  nil,
			courseID: "course-42",
			want:     SignalCancelled,
		},
		{
			name:     "bare cancel flag",
			query:    "cancel=1",
			attempt:  redirectAttempt("course-42"),
			courseID: "course-42",
			want:     SignalCancelled,
		},
		{
			name:     "fresh load with no record",
			query:    "",
			attempt:  nil,
			courseID: "course-42",
			want:     SignalNone,
		},
		{
			name:     "correlation token without approval token",
			query:    "token=abc",
			attempt:  redirectAttempt("course-42"),
			courseID: "course-42",
			want:     SignalCancelled,
		},
		{
			name:     "token plus PayerID resumes polling",
			query:    "PayerID=1&token=abc",
			attempt:  redirectAttempt("course-42"),
			courseID: "course-42",
			want:     SignalResume,
		},
		{
			name:  "token without PayerID on a non-redirect method still resumes",
			query: "token=abc",
			attempt: &models.TransactionAttempt{
				AttemptID: "a-1",
				CourseID:  "course-42",
				Method:    models.MethodCard,
				StartedAt: time.Now(),
			},
			courseID: "course-42",
			want:     SignalResume,
		},
		{
			name:     "matching record without gateway params resumes",
			query:    "payment_status=success",
			attempt:  redirectAttempt("course-42"),
			courseID: "course-42",
			want:     SignalResume,
		},
		{
			name:     "record for a different course is ignored",
			query:    "",
			attempt:  redirectAttempt("course-7"),
			courseID: "course-42",
			want:     SignalNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("bad test query: %v", err)
			}
			if got := DetectReturn(query, tt.attempt, tt.courseID); got != tt.want {
				t.Errorf("DetectReturn = %v; want %v", got, tt.want)
			}
		})
	}
}

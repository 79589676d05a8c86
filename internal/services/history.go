package services

import (
	"time"

	"gorm.io/gorm"

	"cursos_checkout/internal/models"
)

// HistoryService records terminal attempt outcomes for diagnostics. The
// flow works fine without it; when no database is configured the machine
// simply gets no recorder.
type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

// RecordOutcome persists one terminal outcome row
func (s *HistoryService) RecordOutcome(attempt *models.TransactionAttempt, outcome models.Outcome, detail string) error {
	record := models.PaymentRecord{
		AttemptID:   attempt.AttemptID,
		CourseID:    attempt.CourseID,
		Method:      attempt.Method,
		PaymentID:   attempt.PaymentID,
		Outcome:     outcome,
		Detail:      detail,
		StartedAt:   attempt.StartedAt,
		CompletedAt: time.Now(),
		Checks:      attempt.CheckCount,
	}
	return s.db.Create(&record).Error
}

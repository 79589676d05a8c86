package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentRecord stores the terminal outcome of a finished attempt for
// later inspection. Purely diagnostic; the reconciliation flow never
// reads it back.
type PaymentRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	AttemptID string        `gorm:"type:varchar(64);index" json:"attempt_id"`
	CourseID  string        `gorm:"type:varchar(100);index" json:"course_id"`
	Method    PaymentMethod `gorm:"type:varchar(50)" json:"method"`
	PaymentID string        `gorm:"type:varchar(100)" json:"payment_id"`
	Outcome   Outcome       `gorm:"type:varchar(50)" json:"outcome"`
	Detail    string        `gorm:"type:text" json:"detail"` // e.g. the literal unknown status string

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Checks      int       `json:"checks"`
}

package models

import "time"

// PaymentMethod is the closed set of payment methods the backend accepts
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "tarjeta"
	MethodPayPal       PaymentMethod = "paypal"
	MethodMercadoPago  PaymentMethod = "mercadopago"
	MethodCrypto       PaymentMethod = "crypto"
	MethodBankTransfer PaymentMethod = "transferencia"
	MethodDev          PaymentMethod = "dev"
)

// IsRedirect reports whether the method sends the user to an external
// checkout page and back
func (m PaymentMethod) IsRedirect() bool {
	switch m {
	case MethodPayPal, MethodMercadoPago, MethodCrypto:
		return true
	}
	return false
}

// Valid reports whether m is one of the known methods
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodPayPal, MethodMercadoPago, MethodCrypto, MethodBankTransfer, MethodDev:
		return true
	}
	return false
}

// Outcome is the terminal classification of a transaction attempt
type Outcome string

const (
	OutcomePending      Outcome = "pending"
	OutcomeApproved     Outcome = "approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeExpired      Outcome = "expired"
	OutcomeUnknownError Outcome = "unknown_error"
)

// Terminal reports whether no further automatic transitions occur
func (o Outcome) Terminal() bool {
	return o != OutcomePending && o != ""
}

// TransactionAttempt is one purchase try for one course via one payment
// method, from initiation to terminal outcome. It is the only state that
// survives a process restart (persisted via store.AttemptStore).
type TransactionAttempt struct {
	AttemptID string        `json:"attempt_id"`
	CourseID  string        `json:"course_id"`
	Method    PaymentMethod `json:"method"`

	// PaymentID is assigned by the backend; empty until initiation returns
	// it, and may stay empty for synchronously resolved methods.
	PaymentID string    `json:"payment_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	// CheckCount counts status polls performed for this attempt. It only
	// grows; a reset means a new attempt or an explicit manual re-verify.
	CheckCount int `json:"check_count"`

	// VerifiedAfterReturn is set once a poll has run because the user came
	// back from an external gateway. Guards against polling forever on a
	// checkout the user abandoned.
	VerifiedAfterReturn  bool `json:"verified_after_return"`
	ReturningFromPayment bool `json:"returning_from_payment"`
}

// Age returns how long the attempt has been running as of now
func (a *TransactionAttempt) Age(now time.Time) time.Duration {
	return now.Sub(a.StartedAt)
}

// Complete reports whether the record carries every field required to
// resume reconciliation. An incomplete record is treated as absent.
func (a *TransactionAttempt) Complete() bool {
	return a.CourseID != "" && a.Method.Valid() && !a.StartedAt.IsZero()
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cursos_checkout/internal/models"
	"cursos_checkout/internal/services"
)

const (
	// attemptTimeout is the absolute ceiling for one attempt, measured
	// from initiation. Checked on every step because the persisted
	// record can outlive a restart that happened mid-wait.
	attemptTimeout = 5 * time.Minute

	// maxStatusChecks bounds the number of status polls per attempt
	maxStatusChecks = 5

	// redirectAbandonChecks: a redirect gateway still pending this many
	// polls after the user came back is treated as abandoned, not slow.
	// Known false-cancellation risk for genuinely slow settlements; the
	// gateway never confirms the abandonment.
	redirectAbandonChecks = 2

	pollBaseDelay = 3 * time.Second
	pollDelayStep = 1 * time.Second
)

// StepResult is the decision of one reconcile step. OutcomePending means
// "poll again after Delay"; any other outcome is terminal and the caller
// must clear the persisted record.
type StepResult struct {
	Outcome models.Outcome
	Delay   time.Duration
	Detail  string
	Err     error
}

// Reconciler resolves the authoritative state of one attempt by polling
// the backend. Each Step performs at most one status query; scheduling
// between steps belongs to the caller.
type Reconciler struct {
	api   *services.PaymentAPI
	creds *services.CredentialLookup
	now   func() time.Time
}

func NewReconciler(api *services.PaymentAPI, creds *services.CredentialLookup) *Reconciler {
	return &Reconciler{api: api, creds: creds, now: time.Now}
}

// Step runs one iteration of the reconciliation policy, mutating the
// attempt's CheckCount and VerifiedAfterReturn as it goes. Guards are
// evaluated before the query as well as after a pending reply, so a
// record reloaded after a restart terminates without an extra query once
// its budget is spent.
func (r *Reconciler) Step(ctx context.Context, attempt *models.TransactionAttempt) StepResult {
	if attempt.Age(r.now()) > attemptTimeout {
		return StepResult{
			Outcome: models.OutcomeExpired,
			Detail:  "attempt exceeded the 5 minute limit",
		}
	}

	if attempt.Method.IsRedirect() && attempt.VerifiedAfterReturn && attempt.CheckCount >= redirectAbandonChecks {
		return StepResult{
			Outcome: models.OutcomeCancelled,
			Detail:  "still pending after returning from the gateway; checkout assumed abandoned",
		}
	}

	if attempt.CheckCount >= maxStatusChecks {
		return r.exhausted(attempt)
	}

	bearer, ok := r.creds.BearerToken(ctx)
	if !ok {
		return StepResult{
			Outcome: models.OutcomeUnknownError,
			Detail:  "no credential available for the status query",
			Err:     services.ErrUnauthenticated,
		}
	}

	status, err := r.api.PaymentStatus(ctx, bearer, attempt.CourseID)
	if err != nil {
		if errors.Is(err, services.ErrUnauthenticated) {
			return StepResult{
				Outcome: models.OutcomeUnknownError,
				Detail:  "backend rejected the credential",
				Err:     err,
			}
		}
		// An unreachable backend cannot be told apart from "check again
		// later" safely; stop and let the user retry deliberately.
		return StepResult{
			Outcome: models.OutcomeUnknownError,
			Detail:  "status query failed",
			Err:     err,
		}
	}

	switch status {
	case "approved":
		return StepResult{Outcome: models.OutcomeApproved}
	case "rejected":
		return StepResult{Outcome: models.OutcomeRejected}
	case "pending":
		if attempt.ReturningFromPayment && !attempt.VerifiedAfterReturn {
			attempt.VerifiedAfterReturn = true
		}
		attempt.CheckCount++

		if attempt.Method.IsRedirect() && attempt.VerifiedAfterReturn && attempt.CheckCount >= redirectAbandonChecks {
			return StepResult{
				Outcome: models.OutcomeCancelled,
				Detail:  "still pending after returning from the gateway; checkout assumed abandoned",
			}
		}
		if attempt.CheckCount >= maxStatusChecks {
			return r.exhausted(attempt)
		}

		return StepResult{
			Outcome: models.OutcomePending,
			Delay:   pollBaseDelay + time.Duration(attempt.CheckCount)*pollDelayStep,
		}
	default:
		return StepResult{
			Outcome: models.OutcomeUnknownError,
			Detail:  fmt.Sprintf("backend returned unrecognized status %q", status),
		}
	}
}

// exhausted classifies a spent retry budget: a redirect gateway is
// assumed abandoned, anything else is an unknown error.
func (r *Reconciler) exhausted(attempt *models.TransactionAttempt) StepResult {
	if attempt.Method.IsRedirect() {
		return StepResult{
			Outcome: models.OutcomeCancelled,
			Detail:  fmt.Sprintf("still pending after %d checks", attempt.CheckCount),
		}
	}
	return StepResult{
		Outcome: models.OutcomeUnknownError,
		Detail:  fmt.Sprintf("still pending after %d checks", attempt.CheckCount),
	}
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cursos_checkout/internal/models"
	"cursos_checkout/internal/services"
	"cursos_checkout/internal/store"
)

// State of the reconciliation machine for one purchase attempt
type State string

const (
	StateIdle           State = "idle"
	StateInitiating     State = "initiating"
	StateAwaitingReturn State = "awaiting_redirect_return"
	StatePolling        State = "polling"
	StateApproved       State = "approved"
	StateRejected       State = "rejected"
	StateCancelled      State = "cancelled"
	StateExpired        State = "expired"
	StateFailed         State = "failed"
)

// Terminal reports whether the machine stops in this state
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateCancelled, StateExpired, StateFailed:
		return true
	}
	return false
}

// Result is the single discriminated outcome handed to the caller. No
// error condition propagates past the machine as a fault; everything is
// folded in here.
type Result struct {
	State   State
	Outcome models.Outcome
	// Message is renderable to the user and, for every state except
	// Approved, tells them what to do next.
	Message string
	Err     error
	// CheckoutURL is set when the flow suspended waiting for the user to
	// finish an external checkout.
	CheckoutURL string
}

// Recorder receives terminal outcomes for diagnostics. Optional.
type Recorder interface {
	RecordOutcome(attempt *models.TransactionAttempt, outcome models.Outcome, detail string) error
}

// Machine owns the lifecycle of one purchase attempt: initiation, the
// suspension across an external checkout, polling, and the terminal
// outcome. All transitions happen on the goroutine calling Start or
// Resume; Cancel may be called from anywhere.
type Machine struct {
	attempts *store.AttemptStore
	api      *services.PaymentAPI
	creds    *services.CredentialLookup
	rec      *Reconciler
	log      *zap.Logger

	// ReturnURL and CancelURL are handed to the backend so the gateway
	// can send the user back to the local return listener.
	ReturnURL string
	CancelURL string
	// StorefrontURL is where an approved redirect payment navigates back
	// to (the purchased course page).
	StorefrontURL string

	// Navigate is invoked to send the user somewhere (external checkout,
	// or back to the course). Optional.
	Navigate func(url string)
	// Unlock is invoked once on approval with the course ID. Optional.
	Unlock func(courseID string)
	// History records terminal outcomes. Optional.
	History Recorder

	now   func() time.Time
	timer func(d time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    State
	cancelCh chan struct{}
}

func NewMachine(attempts *store.AttemptStore, api *services.PaymentAPI, creds *services.CredentialLookup, logger *zap.Logger) *Machine {
	return &Machine{
		attempts: attempts,
		api:      api,
		creds:    creds,
		rec:      NewReconciler(api, creds),
		log:      logger,
		now:      time.Now,
		timer: func(d time.Duration) <-chan time.Time {
			return time.After(d)
		},
		state:    StateIdle,
		cancelCh: make(chan struct{}, 1),
	}
}

// State returns the machine's current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Cancel aborts a polling attempt from any goroutine. The record is
// cleared by the polling loop when it observes the signal.
func (m *Machine) Cancel() {
	select {
	case m.cancelCh <- struct{}{}:
	default:
	}
}

// Start begins a new purchase attempt. Any previously persisted attempt
// is discarded first so a stale poll can never resolve into this one.
func (m *Machine) Start(ctx context.Context, courseID string, method models.PaymentMethod, amount float64, currency string, card *services.CardDetails) (Result, error) {
	if !method.Valid() {
		return m.fail(ctx, nil, fmt.Sprintf("unknown payment method %q", method), nil), nil
	}

	m.setState(StateInitiating)
	m.drainCancel()

	bearer, ok := m.creds.BearerToken(ctx)
	if !ok {
		res := m.fail(ctx, nil, "you are not signed in; please log in and try again", services.ErrUnauthenticated)
		return res, nil
	}

	// Starting a new attempt always clears the previous one, even when
	// initiation then fails.
	if err := m.attempts.Clear(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to clear previous attempt: %w", err)
	}

	attempt := &models.TransactionAttempt{
		AttemptID: uuid.New().String(),
		CourseID:  courseID,
		Method:    method,
		StartedAt: m.now(),
	}

	m.log.Info("initiating payment",
		zap.String("attempt_id", attempt.AttemptID),
		zap.String("course_id", courseID),
		zap.String("method", string(method)))

	initResult, err := m.api.CreatePayment(ctx, bearer, &services.CreatePaymentRequest{
		CourseID:    courseID,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		ReturnURL:   m.ReturnURL,
		CancelURL:   m.CancelURL,
		CardDetails: card,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnauthenticated):
			return m.fail(ctx, attempt, "your session has expired; please log in again", err), nil
		case errors.Is(err, services.ErrConnectivity):
			return m.fail(ctx, attempt, "could not reach the payment service; check your connection and retry", err), nil
		case errors.Is(err, services.ErrMalformedResponse):
			return m.fail(ctx, attempt, "the payment service sent an unusable reply; try another method or contact support", err), nil
		default:
			return m.fail(ctx, attempt, "the payment could not be created; please try again", err), nil
		}
	}

	attempt.PaymentID = initResult.PaymentID

	if initResult.NeedsRedirect() {
		if err := m.attempts.Write(ctx, attempt); err != nil {
			return Result{}, fmt.Errorf("failed to persist attempt: %w", err)
		}
		m.setState(StateAwaitingReturn)
		m.log.Info("redirecting to external checkout",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("checkout_url", initResult.CheckoutURL))
		if m.Navigate != nil {
			m.Navigate(initResult.CheckoutURL)
		}
		return Result{
			State:       StateAwaitingReturn,
			Outcome:     models.OutcomePending,
			Message:     "complete the payment in the opened checkout page",
			CheckoutURL: initResult.CheckoutURL,
		}, nil
	}

	// Synchronously handled method: persist and reconcile right away.
	if err := m.attempts.Write(ctx, attempt); err != nil {
		return Result{}, fmt.Errorf("failed to persist attempt: %w", err)
	}
	return m.runPolling(ctx, attempt)
}

// Resume handles a page (re)load: it runs the return detector against
// the current query parameters and the persisted attempt, and either
// does nothing, reports a cancellation, or reconciles.
func (m *Machine) Resume(ctx context.Context, courseID string, query url.Values) (Result, error) {
	attempt, err := m.attempts.Read(ctx)
	if err != nil && !errors.Is(err, store.ErrNoAttempt) {
		return Result{}, fmt.Errorf("failed to read persisted attempt: %w", err)
	}

	// A headless start has no "currently viewed" course; the persisted
	// attempt's own course is the one being resumed.
	if courseID == "" && attempt != nil {
		courseID = attempt.CourseID
	}

	switch DetectReturn(query, attempt, courseID) {
	case SignalCancelled:
		if err := m.attempts.Clear(ctx); err != nil {
			return Result{}, fmt.Errorf("failed to clear attempt: %w", err)
		}
		m.recordOutcome(attempt, models.OutcomeCancelled, "cancelled at the gateway")
		m.setState(StateCancelled)
		return Result{
			State:   StateCancelled,
			Outcome: models.OutcomeCancelled,
			Message: "the payment was cancelled; you can retry or choose another method",
		}, nil

	case SignalResume:
		m.drainCancel()
		attempt.ReturningFromPayment = true
		if err := m.attempts.Write(ctx, attempt); err != nil {
			return Result{}, fmt.Errorf("failed to persist attempt: %w", err)
		}
		m.log.Info("returned from external checkout, verifying payment",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("course_id", attempt.CourseID))
		return m.runPolling(ctx, attempt)

	default:
		m.setState(StateIdle)
		return Result{State: StateIdle, Outcome: models.OutcomePending}, nil
	}
}

// VerifyAgain resets the poll budget on an explicit user request and
// reconciles the persisted attempt once more. The absolute timeout is
// not reset; an attempt older than the ceiling still expires.
func (m *Machine) VerifyAgain(ctx context.Context) (Result, error) {
	attempt, err := m.attempts.Read(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoAttempt) {
			m.setState(StateIdle)
			return Result{State: StateIdle, Outcome: models.OutcomePending, Message: "no payment in progress"}, nil
		}
		return Result{}, fmt.Errorf("failed to read persisted attempt: %w", err)
	}

	m.drainCancel()
	attempt.CheckCount = 0
	attempt.VerifiedAfterReturn = false
	if err := m.attempts.Write(ctx, attempt); err != nil {
		return Result{}, fmt.Errorf("failed to persist attempt: %w", err)
	}
	return m.runPolling(ctx, attempt)
}

// runPolling loops reconcile steps until a terminal classification
// fires, the user cancels, or the context ends. Polls are strictly
// sequential: the next one is only scheduled after the previous backend
// call settled.
func (m *Machine) runPolling(ctx context.Context, attempt *models.TransactionAttempt) (Result, error) {
	m.setState(StatePolling)

	for {
		step := m.rec.Step(ctx, attempt)

		if step.Outcome == models.OutcomePending {
			if err := m.attempts.Write(ctx, attempt); err != nil {
				return Result{}, fmt.Errorf("failed to persist attempt: %w", err)
			}
			m.log.Debug("payment still pending",
				zap.String("attempt_id", attempt.AttemptID),
				zap.Int("check_count", attempt.CheckCount),
				zap.Duration("next_poll_in", step.Delay))

			select {
			case <-m.timer(step.Delay):
				continue
			case <-m.cancelCh:
				if err := m.attempts.Clear(ctx); err != nil {
					return Result{}, fmt.Errorf("failed to clear attempt: %w", err)
				}
				m.recordOutcome(attempt, models.OutcomeCancelled, "cancelled by the user")
				m.setState(StateCancelled)
				return Result{
					State:   StateCancelled,
					Outcome: models.OutcomeCancelled,
					Message: "payment verification cancelled; you can retry or choose another method",
				}, nil
			case <-ctx.Done():
				// Shutdown mid-wait is the suspension point: keep the
				// record so the next start resumes reconciliation.
				return Result{
					State:   StatePolling,
					Outcome: models.OutcomePending,
					Message: "verification interrupted; it will resume on the next start",
					Err:     ctx.Err(),
				}, nil
			}
		}

		return m.finish(ctx, attempt, step)
	}
}

// finish clears the record, records history and maps a terminal step to
// the machine's terminal state.
func (m *Machine) finish(ctx context.Context, attempt *models.TransactionAttempt, step StepResult) (Result, error) {
	if err := m.attempts.Clear(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to clear attempt: %w", err)
	}
	m.recordOutcome(attempt, step.Outcome, step.Detail)

	res := Result{Outcome: step.Outcome, Err: step.Err}

	switch step.Outcome {
	case models.OutcomeApproved:
		res.State = StateApproved
		res.Message = "payment approved; the course is now unlocked"
		m.log.Info("payment approved",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("course_id", attempt.CourseID),
			zap.Int("checks", attempt.CheckCount))
		if m.Unlock != nil {
			m.Unlock(attempt.CourseID)
		}
		if attempt.Method.IsRedirect() && m.Navigate != nil {
			m.Navigate(m.courseURL(attempt.CourseID))
		}

	case models.OutcomeRejected:
		res.State = StateRejected
		res.Message = "the payment was rejected; please try another method"

	case models.OutcomeCancelled:
		res.State = StateCancelled
		res.Message = "the payment was cancelled; you can retry or choose another method"

	case models.OutcomeExpired:
		res.State = StateExpired
		res.Message = "the payment attempt timed out; please start again"

	default:
		res.State = StateFailed
		res.Message = "the payment state could not be determined; please retry or contact support"
		if errors.Is(step.Err, services.ErrUnauthenticated) {
			res.Message = "your session has expired; please log in and verify the payment again"
		}
		m.log.Warn("payment attempt failed",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("detail", step.Detail),
			zap.Error(step.Err))
	}

	m.setState(res.State)
	return res, nil
}

// fail resolves an initiation-stage error into a terminal Failed result,
// discarding whatever was persisted.
func (m *Machine) fail(ctx context.Context, attempt *models.TransactionAttempt, message string, err error) Result {
	if clearErr := m.attempts.Clear(ctx); clearErr != nil {
		m.log.Warn("failed to clear attempt record", zap.Error(clearErr))
	}
	if attempt != nil {
		m.recordOutcome(attempt, models.OutcomeUnknownError, message)
	}
	m.setState(StateFailed)
	m.log.Warn("payment initiation failed", zap.String("reason", message), zap.Error(err))
	return Result{
		State:   StateFailed,
		Outcome: models.OutcomeUnknownError,
		Message: message,
		Err:     err,
	}
}

func (m *Machine) recordOutcome(attempt *models.TransactionAttempt, outcome models.Outcome, detail string) {
	if m.History == nil || attempt == nil {
		return
	}
	if err := m.History.RecordOutcome(attempt, outcome, detail); err != nil {
		m.log.Warn("failed to record payment outcome", zap.Error(err))
	}
}

func (m *Machine) courseURL(courseID string) string {
	base := strings.TrimRight(m.StorefrontURL, "/")
	if base == "" {
		return "/cursos/" + courseID
	}
	return base + "/cursos/" + courseID
}

// drainCancel discards a cancel signal left over from a previous attempt
func (m *Machine) drainCancel() {
	select {
	case <-m.cancelCh:
	default:
	}
}

package flow

import (
	"net/url"

	"cursos_checkout/internal/models"
)

// ReturnSignal is what a (re)load of the storefront, together with the
// persisted attempt, tells us about an in-flight payment.
type ReturnSignal int

const (
	// SignalNone: fresh load, nothing payment-related to do
	SignalNone ReturnSignal = iota
	// SignalCancelled: the gateway sent the user back without paying
	SignalCancelled
	// SignalResume: this is a return from redirect; go verify the payment
	SignalResume
)

// DetectReturn inspects the return URL's query parameters and the
// persisted attempt and decides how the load should be handled.
//
// The evaluation order matters: the explicit cancel parameter wins over
// everything, and the token-without-approval check must run before we
// decide to poll. PayPal's cancel path does not set payment_status; it
// just sends the correlation token back without a PayerID, and polling
// in that situation would misreport an abandoned checkout as pending.
func DetectReturn(query url.Values, attempt *models.TransactionAttempt, currentCourseID string) ReturnSignal {
	if query.Get("payment_status") == "cancelled" || query.Has("cancel") {
		return SignalCancelled
	}

	if attempt == nil {
		return SignalNone
	}

	if attempt.Method.IsRedirect() && query.Has("token") && !query.Has("PayerID") {
		return SignalCancelled
	}

	if attempt.CourseID == currentCourseID {
		return SignalResume
	}

	// A record for some other course is stale; leave it for the next
	// Start to discard rather than resolving it into this page.
	return SignalNone
}

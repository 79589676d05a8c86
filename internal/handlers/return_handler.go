package handlers

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"cursos_checkout/internal/flow"
)

// ReturnEvent is one browser arrival on the local return listener: the
// gateway sent the user back, carrying whatever the return-URL contract
// put in the query string.
type ReturnEvent struct {
	CourseID string
	Query    url.Values
}

// PaymentReturnHandler receives the gateway's return and cancel
// redirects. It never reconciles in the request goroutine; it hands the
// event to the single flow goroutine and answers immediately, so the
// browser is not held hostage to the polling loop.
type PaymentReturnHandler struct {
	machine *flow.Machine
	events  chan<- ReturnEvent
	log     *zap.Logger
}

func NewPaymentReturnHandler(machine *flow.Machine, events chan<- ReturnEvent, logger *zap.Logger) *PaymentReturnHandler {
	return &PaymentReturnHandler{machine: machine, events: events, log: logger}
}

// Register mounts the payment routes
func (h *PaymentReturnHandler) Register(e *echo.Echo) {
	e.GET("/payment/return", h.HandleReturn)
	e.GET("/payment/cancel", h.HandleCancel)
	e.POST("/payment/abort", h.HandleAbort)
	e.GET("/payment/status", h.HandleStatus)
}

// HandleReturn is the gateway's returnUrl target
func (h *PaymentReturnHandler) HandleReturn(c echo.Context) error {
	h.dispatch(c.QueryParam("course_id"), c.QueryParams())
	return c.JSON(http.StatusOK, map[string]string{
		"message": "return received, verifying payment; you can close this tab",
	})
}

// HandleCancel is the gateway's cancelUrl target. Some gateways hit it
// without any explicit cancel parameter, so one is forced here before
// the return detector runs.
func (h *PaymentReturnHandler) HandleCancel(c echo.Context) error {
	query := c.QueryParams()
	query.Set("payment_status", "cancelled")
	h.dispatch(c.QueryParam("course_id"), query)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "payment cancelled; you can close this tab",
	})
}

// HandleAbort lets the user abort a running verification
func (h *PaymentReturnHandler) HandleAbort(c echo.Context) error {
	h.machine.Cancel()
	return c.JSON(http.StatusAccepted, map[string]string{"message": "cancellation requested"})
}

// HandleStatus reports the machine's current state
func (h *PaymentReturnHandler) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"state": string(h.machine.State())})
}

func (h *PaymentReturnHandler) dispatch(courseID string, query url.Values) {
	select {
	case h.events <- ReturnEvent{CourseID: courseID, Query: query}:
	default:
		// A return is already queued; a second arrival for the same
		// attempt carries nothing new.
		h.log.Warn("dropping duplicate gateway return", zap.String("course_id", courseID))
	}
}

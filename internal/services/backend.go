package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cursos_checkout/internal/models"
)

// PaymentAPI talks to the storefront backend's payment endpoints. It is a
// plain HTTP client; all retry and polling policy lives in the flow
// package.
type PaymentAPI struct {
	baseURL string
	client  *http.Client
}

func NewPaymentAPI(baseURL string) *PaymentAPI {
	return &PaymentAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CardDetails is only sent for the card method
type CardDetails struct {
	Number string `json:"numero"`
	Expiry string `json:"expiracion"`
	CVV    string `json:"cvv"`
}

// CreatePaymentRequest is the body of POST /payments
type CreatePaymentRequest struct {
	CourseID    string               `json:"courseId"`
	Amount      float64              `json:"amount"`
	Currency    string               `json:"currency"`
	Method      models.PaymentMethod `json:"method"`
	ReturnURL   string               `json:"returnUrl"`
	CancelURL   string               `json:"cancelUrl"`
	CardDetails *CardDetails         `json:"cardDetails,omitempty"`
}

// InitiationResult is the interpreted reply to a payment-creation call.
// Exactly one of two shapes: a checkout URL the user must visit, or an
// immediate paymentId + status for synchronously handled methods.
type InitiationResult struct {
	CheckoutURL string
	PaymentID   string
	Status      string
}

// NeedsRedirect reports whether the gateway requires an external checkout
func (r *InitiationResult) NeedsRedirect() bool {
	return r.CheckoutURL != ""
}

// CreatePayment issues the single payment-creation request. It does not
// retry: a connectivity failure is reported as ErrConnectivity and the
// caller (ultimately the user) decides what to do.
func (s *PaymentAPI) CreatePayment(ctx context.Context, bearer string, req *CreatePaymentRequest) (*InitiationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", bearer)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthenticated
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payment creation failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedResponse)
	}

	result := &InitiationResult{
		CheckoutURL: extractCheckoutURL(payload),
		PaymentID:   stringField(payload, "paymentId"),
		Status:      stringField(payload, "status"),
	}

	// A success-shaped reply must carry either a checkout URL or an
	// immediate pending/approved status. Anything else is fatal for the
	// attempt, not something to retry.
	if result.CheckoutURL == "" && result.Status != "pending" && result.Status != "approved" {
		return nil, fmt.Errorf("%w: no checkout URL and no usable status", ErrMalformedResponse)
	}

	return result, nil
}

// PaymentStatus queries GET /payments/{courseId} and returns the raw
// status string. A 404 means the backend has not created the payment yet
// and is reported as "pending", not as an error.
func (s *PaymentAPI) PaymentStatus(ctx context.Context, bearer, courseID string) (string, error) {
	endpoint := s.baseURL + "/payments/" + url.PathEscape(courseID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", bearer)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "pending", nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthenticated
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: not valid JSON", ErrMalformedResponse)
	}
	if payload.Status == "" {
		return "", fmt.Errorf("%w: missing status field", ErrMalformedResponse)
	}
	return payload.Status, nil
}

// checkoutURLFields is the closed, prioritized list of top-level fields a
// gateway's creation reply may carry the checkout URL under. The same
// list is probed one level down under "data", then the links array. The
// order is fixed; first hit wins. There is deliberately no free-text URL
// scanning fallback.
var checkoutURLFields = []string{"url", "checkout_url", "redirect_url", "hosted_url", "approval_url"}

func extractCheckoutURL(payload map[string]interface{}) string {
	for _, field := range checkoutURLFields {
		if u := stringField(payload, field); u != "" {
			return u
		}
	}

	if data, ok := payload["data"].(map[string]interface{}); ok {
		for _, field := range checkoutURLFields {
			if u := stringField(data, field); u != "" {
				return u
			}
		}
	}

	if links, ok := payload["links"].([]interface{}); ok {
		for _, item := range links {
			link, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			rel := stringField(link, "rel")
			if rel == "approval_url" || rel == "approve" {
				if href := stringField(link, "href"); href != "" {
					return href
				}
			}
		}
	}

	return ""
}

func stringField(m map[string]interface{}, key string) string {
	val, _ := m[key].(string)
	return strings.TrimSpace(val)
}

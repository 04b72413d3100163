package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome classifies the terminal result of one call attempt. The proxy's
// rotation policy keys on these values, so they are part of its wire
// contract.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAuthFailure      Outcome = "auth_failure"      // credential rejected or expired
	OutcomeQuotaFailure     Outcome = "quota_failure"     // credential valid but rate/credit-limited
	OutcomeTransportFailure Outcome = "transport_failure" // network or backend unavailable
	OutcomeInvalidRequest   Outcome = "invalid_request"   // caller error, not credential-related
)

// Retryable reports whether a fresh credential may fix this outcome.
func (o Outcome) Retryable() bool {
	return o == OutcomeAuthFailure || o == OutcomeQuotaFailure
}

// CallError is a classified call failure.
type CallError struct {
	Outcome    Outcome
	StatusCode int    // 0 when the failure happened below HTTP
	Detail     string // short, credential-free description
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Outcome, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Outcome, e.Detail)
}

// Classify extracts the Outcome from an adapter error. Unclassifiable
// errors count as transport failures: a retry with a new credential would
// not help, and pretending success would hide them.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Outcome
	}
	return OutcomeTransportFailure
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}

// classifyStatus maps an HTTP status code to an Outcome.
//
//	401/403        → auth_failure
//	402/429        → quota_failure
//	other 4xx      → invalid_request
//	everything else → transport_failure
func classifyStatus(code int) Outcome {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeAuthFailure
	case code == http.StatusPaymentRequired || code == http.StatusTooManyRequests:
		return OutcomeQuotaFailure
	case code >= 400 && code < 500:
		return OutcomeInvalidRequest
	default:
		return OutcomeTransportFailure
	}
}

// statusError builds a CallError from a non-2xx response body excerpt.
func statusError(code int, body []byte) *CallError {
	const maxDetail = 256
	detail := string(body)
	if len(detail) > maxDetail {
		detail = detail[:maxDetail]
	}
	return &CallError{
		Outcome:    classifyStatus(code),
		StatusCode: code,
		Detail:     detail,
	}
}

// transportError wraps a below-HTTP failure (dial, TLS, timeout,
// cancellation) as a transport_failure.
func transportError(op string, err error) *CallError {
	detail := fmt.Sprintf("%s: %v", op, err)
	switch {
	case errors.Is(err, context.Canceled):
		detail = op + ": cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		detail = op + ": timed out"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			detail = op + ": timed out"
		}
	}
	return &CallError{Outcome: OutcomeTransportFailure, Detail: detail}
}

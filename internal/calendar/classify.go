package calendar

import (
	"context"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"
)

// Classify maps one provider response onto the closed ErrorKind set. Every
// gateway call funnels its outcome through here so that revocation signals,
// validation quirks and throttling are recognized in exactly one place.
//
// transportErr is a non-nil error from the HTTP round trip itself; in that
// case status and body are ignored.
func Classify(status int, body []byte, transportErr error) *ProviderError {
	if transportErr != nil {
		kind := KindTransient
		if errors.Is(transportErr, context.Canceled) {
			kind = KindFatal
		}
		return &ProviderError{Kind: kind, Reason: "transport", Message: transportErr.Error()}
	}

	reason := firstNonEmpty(
		gjson.GetBytes(body, "error.errors.0.reason").String(),
		gjson.GetBytes(body, "error.status").String(),
		// OAuth token endpoints use a flat {"error": "invalid_grant"} shape.
		stringError(body),
	)
	message := firstNonEmpty(
		gjson.GetBytes(body, "error.message").String(),
		gjson.GetBytes(body, "error_description").String(),
	)

	pe := &ProviderError{Status: status, Reason: reason, Message: message}

	// Revocation comes in several dialects; all of them mean the same
	// thing: stop syncing and ask the user to reconnect.
	switch reason {
	case "invalid_grant", "invalid_token", "authError", "expired", "UNAUTHENTICATED", "deleted":
		pe.Kind = KindTokenExpired
		return pe
	}
	if status == http.StatusUnauthorized {
		pe.Kind = KindTokenExpired
		return pe
	}

	switch {
	case status == http.StatusForbidden:
		// Quota pushback is retryable; real permission problems are not.
		switch reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			pe.Kind = KindTransient
		default:
			pe.Kind = KindFatal
		}
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		pe.Kind = KindMalformedRequest
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		pe.Kind = KindTransient
	default:
		pe.Kind = KindFatal
	}
	return pe
}

func stringError(body []byte) string {
	if v := gjson.GetBytes(body, "error"); v.Type == gjson.String {
		return v.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package calendar

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed classification of provider failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTokenExpired
	KindMalformedRequest
	KindTransient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTokenExpired:
		return "token_expired"
	case KindMalformedRequest:
		return "malformed_request"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ProviderError wraps a classified provider failure. Status and Reason are
// kept for logging; callers branch on Kind only.
type ProviderError struct {
	Kind    ErrorKind
	Status  int
	Reason  string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("calendar provider error (%s, status=%d, reason=%s): %s", e.Kind, e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("calendar provider error (%s, status=%d): %s", e.Kind, e.Status, e.Message)
}

// KindOf extracts the classification from err, or KindUnknown when err is
// not a provider error.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

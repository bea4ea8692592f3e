// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the machine-readable category of a ticket acquisition
// failure. Kinds are stable strings suitable for logs, metrics labels,
// and CLI JSON output.
type Kind string

const (
	KindInvalidServiceID     Kind = "invalid_service_id"
	KindCertificateNotFound  Kind = "certificate_not_found"
	KindPrivateKeyNotFound   Kind = "private_key_not_found"
	KindSigning              Kind = "signing_error"
	KindTransportTimeout     Kind = "transport_timeout"
	KindTransportConnection  Kind = "transport_connection_error"
	KindTransportHTTP        Kind = "transport_http_error"
	KindCanceled             Kind = "canceled"
	KindMalformedResponse    Kind = "malformed_response"
	KindMissingPayload       Kind = "missing_payload"
	KindMalformedPayload     Kind = "malformed_payload"
	KindIncompleteTicket     Kind = "incomplete_ticket"
	KindExpiredTicket        Kind = "expired_ticket"
	KindFutureGenerationTime Kind = "future_generation_time"
	KindAuthorityFault       Kind = "authority_fault"
	KindNoValidTicket        Kind = "no_valid_ticket"
)

// SigningReason narrows a KindSigning failure for operator diagnosis.
type SigningReason string

const (
	ReasonCertificateLoad SigningReason = "certificate-load"
	ReasonKeyLoad         SigningReason = "key-load"
	ReasonKeyMismatch     SigningReason = "key-mismatch"
	ReasonSign            SigningReason = "sign"
)

// Fault is a SOAP fault returned by the authority, with the verdict
// assigned by [Classify].
type Fault struct {
	// Code is the authority's fault code with any namespace prefix
	// removed (e.g. "coe.alreadyAuthenticated").
	Code string `json:"code"`

	// Description is the authority's faultstring, verbatim.
	Description string `json:"description"`

	// Verdict is the retry classification of Code.
	Verdict Verdict `json:"verdict"`
}

// Error is the failure type returned by every operation in this
// package. Use errors.As to inspect it, or the IsKind and RetryDelay
// helpers.
type Error struct {
	// Kind is the failure category.
	Kind Kind

	// Message is a human-readable description of this occurrence.
	Message string

	// Retryable reports whether calling again may succeed without
	// operator intervention.
	Retryable bool

	// RetryAfter is the minimum wait before retrying, when the
	// authority mandates one. Zero when Retryable is false or no wait
	// is required.
	RetryAfter time.Duration

	// StatusCode is the HTTP status for KindTransportHTTP.
	StatusCode int

	// Reason is set for KindSigning.
	Reason SigningReason

	// Fault is set for KindAuthorityFault.
	Fault *Fault

	// Err is the underlying cause, if any.
	Err error
}

func (err *Error) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "wsaa: %s", err.Kind)
	switch {
	case err.Fault != nil:
		fmt.Fprintf(&builder, " %s (%s)", err.Fault.Code, err.Fault.Verdict)
	case err.Reason != "":
		fmt.Fprintf(&builder, " (%s)", err.Reason)
	case err.StatusCode != 0:
		fmt.Fprintf(&builder, " (HTTP %d)", err.StatusCode)
	}
	if err.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(err.Message)
	}
	if err.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(err.Err.Error())
	}
	return builder.String()
}

func (err *Error) Unwrap() error { return err.Err }

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &wsaa.Error{Kind: wsaa.KindExpiredTicket}).
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == err.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func signingError(reason SigningReason, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindSigning, Reason: reason, Message: fmt.Sprintf(format, args...), Err: cause}
}

func faultError(fault *Fault) *Error {
	classification := Classify(fault.Code)
	fault.Verdict = classification.Verdict
	return &Error{
		Kind:       KindAuthorityFault,
		Message:    fault.Description,
		Retryable:  classification.Verdict.Retryable(),
		RetryAfter: classification.Delay,
		Fault:      fault,
	}
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var wsaaError *Error
	if errors.As(err, &wsaaError) {
		return wsaaError.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var wsaaError *Error
	return errors.As(err, &wsaaError) && wsaaError.Retryable
}

// RetryDelay returns how long to wait before retrying after err, and
// whether a retry is advisable at all.
func RetryDelay(err error) (time.Duration, bool) {
	var wsaaError *Error
	if !errors.As(err, &wsaaError) || !wsaaError.Retryable {
		return 0, false
	}
	return wsaaError.RetryAfter, true
}

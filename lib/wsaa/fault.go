// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"strings"
	"time"
)

// AuthorityRetryDelay is the wait the authority mandates before
// retrying after a transient fault.
const AuthorityRetryDelay = 60 * time.Second

// Verdict is the retry classification of an authority fault code.
type Verdict int

const (
	// VerdictUnknownRetryable is assigned to codes absent from the
	// fault table. Retried after AuthorityRetryDelay: refusing to retry
	// an unrecognized fault can turn a transient problem into an outage.
	VerdictUnknownRetryable Verdict = iota

	// VerdictNoRetry marks faults that need operator or configuration
	// correction, or mean the caller already holds a valid ticket.
	VerdictNoRetry

	// VerdictRetryAfterDelay marks transient faults; retry once after
	// AuthorityRetryDelay.
	VerdictRetryAfterDelay
)

func (verdict Verdict) String() string {
	switch verdict {
	case VerdictNoRetry:
		return "no-retry"
	case VerdictRetryAfterDelay:
		return "retry-after-delay"
	default:
		return "unknown-retryable"
	}
}

// MarshalText renders the verdict name for JSON and CBOR output.
func (verdict Verdict) MarshalText() ([]byte, error) {
	return []byte(verdict.String()), nil
}

// Retryable reports whether the verdict allows an automatic retry.
func (verdict Verdict) Retryable() bool {
	return verdict != VerdictNoRetry
}

// faultTable is the authority's documented fault codes. The two verdict
// sets are disjoint; codes not listed are VerdictUnknownRetryable.
var faultTable = map[string]Verdict{
	"coe.notAuthorized":        VerdictNoRetry,
	"coe.alreadyAuthenticated": VerdictNoRetry,
	"cms.cert.expired":         VerdictNoRetry,
	"cms.cert.invalid":         VerdictNoRetry,
	"cms.cert.untrusted":       VerdictNoRetry,
	"xml.source.invalid":       VerdictNoRetry,
	"xml.destination.invalid":  VerdictNoRetry,
	"xml.version.notSupported": VerdictNoRetry,
	"wsn.notFound":             VerdictNoRetry,

	"cms.bad":                    VerdictRetryAfterDelay,
	"cms.bad.base64":             VerdictRetryAfterDelay,
	"cms.cert.notFound":          VerdictRetryAfterDelay,
	"cms.sign.invalid":           VerdictRetryAfterDelay,
	"xml.bad":                    VerdictRetryAfterDelay,
	"xml.generationTime.invalid": VerdictRetryAfterDelay,
	"xml.expirationTime.expired": VerdictRetryAfterDelay,
	"xml.expirationTime.invalid": VerdictRetryAfterDelay,
	"wsn.unavailable":            VerdictRetryAfterDelay,
	"wsaa.unavailable":           VerdictRetryAfterDelay,
	"wsaa.internalError":         VerdictRetryAfterDelay,
}

// Classification is the result of Classify.
type Classification struct {
	Verdict Verdict

	// Delay is the wait before retrying. Zero for VerdictNoRetry.
	Delay time.Duration
}

// Classify maps an authority fault code to its retry verdict. The code
// may carry a namespace prefix ("ns1:cms.bad"); it is stripped before
// lookup. Classify is a pure function.
func Classify(code string) Classification {
	verdict, known := faultTable[NormalizeFaultCode(code)]
	if !known {
		verdict = VerdictUnknownRetryable
	}
	if verdict == VerdictNoRetry {
		return Classification{Verdict: verdict}
	}
	return Classification{Verdict: verdict, Delay: AuthorityRetryDelay}
}

// KnownFaultCode reports whether code appears in the fault table.
func KnownFaultCode(code string) bool {
	_, known := faultTable[NormalizeFaultCode(code)]
	return known
}

// NormalizeFaultCode trims whitespace and removes a QName prefix from a
// SOAP fault code.
func NormalizeFaultCode(code string) string {
	code = strings.TrimSpace(code)
	if index := strings.LastIndexByte(code, ':'); index >= 0 {
		code = code[index+1:]
	}
	return code
}

// Package classify maps raw provider outcomes to dispatcher error classes.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/lingo/internal/core/domain"
)

// Verdict is the classification of one outcome plus the hints the
// dispatcher needs to act on it.
type Verdict struct {
	Class domain.ErrorClass
	// RetryAfter is a provider-supplied wait, zero when none was given.
	RetryAfter time.Duration
	// QuotaExhausted means the credential's quota is spent until reset,
	// not just throttled.
	QuotaExhausted bool
	Reason         string
}

// Classifier is the retry policy's hook for error classification.
type Classifier interface {
	Classify(outcome domain.RawOutcome) Verdict
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(domain.RawOutcome) Verdict

func (f ClassifierFunc) Classify(o domain.RawOutcome) Verdict { return f(o) }

// Default is the built-in classifier.
var Default Classifier = ClassifierFunc(Inspect)

// Classify returns only the class of an outcome.
func Classify(o domain.RawOutcome) domain.ErrorClass {
	return Inspect(o).Class
}

// Inspect classifies an outcome. Sources are consulted from most to
// least specific: provider code, finish reason, HTTP status, transport
// cause, message text. Anything unrecognized is retryable on the same
// credential.
func Inspect(o domain.RawOutcome) Verdict {
	if o.Err == nil {
		return Verdict{Class: domain.ClassNone}
	}
	e := o.Err
	v := Verdict{Reason: e.Error(), RetryAfter: e.RetryAfter}

	if class, exhausted, ok := fromCode(e.Code); ok {
		v.Class, v.QuotaExhausted = class, exhausted
		return v
	}
	if class, ok := fromFinishReason(e.FinishReason); ok {
		v.Class = class
		return v
	}
	if class, ok := fromStatus(e.StatusCode); ok {
		v.Class = class
		return v
	}
	if e.Cause != nil {
		if gv, ok := fromGRPC(e.Cause); ok {
			gv.Reason = v.Reason
			if gv.RetryAfter == 0 {
				gv.RetryAfter = v.RetryAfter
			}
			return gv
		}
		if isNetwork(e.Cause) {
			v.Class = domain.ClassNetworkTransient
			return v
		}
	}
	v.Class, v.QuotaExhausted = fromMessage(e.Message)
	return v
}

var (
	quotaCodes = []string{"insufficient_quota", "quota_exceeded", "billing_hard_limit_reached"}
	rateCodes  = []string{
		"rate_limit", "rate_limit_exceeded", "resource_exhausted", "too_many_requests",
		"invalid_api_key", "unauthenticated", "permission_denied", "permission_error", "authentication_error",
	}
	terminalCodes = []string{
		"content_filter", "content_policy_violation", "safety", "prohibited_content", "blocklist",
		"invalid_request_error", "invalid_argument", "context_length_exceeded", "model_not_found",
		"not_found_error", "failed_precondition",
	}
	retryCodes   = []string{"server_error", "internal", "unavailable", "overloaded_error", "api_error", "aborted"}
	networkCodes = []string{"timeout", "deadline_exceeded"}
)

func fromCode(code string) (domain.ErrorClass, bool, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return "", false, false
	}
	switch {
	case slices.Contains(quotaCodes, c):
		return domain.ClassRateLimited, true, true
	case slices.Contains(rateCodes, c):
		return domain.ClassRateLimited, false, true
	case slices.Contains(terminalCodes, c):
		return domain.ClassTerminal, false, true
	case slices.Contains(retryCodes, c):
		return domain.ClassRetryableSameCredential, false, true
	case slices.Contains(networkCodes, c):
		return domain.ClassNetworkTransient, false, true
	}
	return "", false, false
}

func fromFinishReason(reason string) (domain.ErrorClass, bool) {
	switch strings.ToLower(reason) {
	case "":
		return "", false
	case "length", "max_tokens":
		return domain.ClassRetryableSameCredential, true
	case "content_filter", "safety", "recitation", "blocklist", "prohibited_content", "spii", "refusal":
		return domain.ClassTerminal, true
	}
	return "", false
}

func fromStatus(code int) (domain.ErrorClass, bool) {
	switch {
	case code == 0:
		return "", false
	case code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		return domain.ClassRateLimited, true
	case code == http.StatusRequestTimeout:
		return domain.ClassNetworkTransient, true
	case code == http.StatusConflict, code == http.StatusTooEarly:
		return domain.ClassRetryableSameCredential, true
	case code >= 500:
		return domain.ClassRetryableSameCredential, true
	case code >= 400:
		return domain.ClassTerminal, true
	}
	return "", false
}

func fromGRPC(err error) (Verdict, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK || st.Code() == codes.Unknown {
		return Verdict{}, false
	}

	var v Verdict
	switch st.Code() {
	case codes.ResourceExhausted, codes.Unauthenticated, codes.PermissionDenied:
		v.Class = domain.ClassRateLimited
	case codes.Unavailable, codes.Internal, codes.Aborted:
		v.Class = domain.ClassRetryableSameCredential
	case codes.DeadlineExceeded, codes.Canceled:
		v.Class = domain.ClassNetworkTransient
	default:
		v.Class = domain.ClassTerminal
	}

	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.RetryInfo:
			v.RetryAfter = info.GetRetryDelay().AsDuration()
		case *errdetails.QuotaFailure:
			for _, violation := range info.GetViolations() {
				if isDailyQuota(violation.GetSubject()) || isDailyQuota(violation.GetDescription()) {
					v.QuotaExhausted = true
				}
			}
		}
	}
	return v, true
}

func isDailyQuota(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "perday") || strings.Contains(s, "per day") || strings.Contains(s, "daily")
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func fromMessage(msg string) (domain.ErrorClass, bool) {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "quota") && (strings.Contains(m, "exceeded") || strings.Contains(m, "insufficient")):
		return domain.ClassRateLimited, isDailyQuota(m) || strings.Contains(m, "insufficient")
	case strings.Contains(m, "rate limit"),
		strings.Contains(m, "too many requests"),
		strings.Contains(m, "unauthorized"),
		strings.Contains(m, "forbidden"):
		return domain.ClassRateLimited, false
	case strings.Contains(m, "content policy"),
		strings.Contains(m, "content_filter"),
		strings.Contains(m, "safety"),
		strings.Contains(m, "blocked"):
		return domain.ClassTerminal, false
	case strings.Contains(m, "timeout"),
		strings.Contains(m, "timed out"),
		strings.Contains(m, "connection reset"),
		strings.Contains(m, "connection refused"),
		strings.Contains(m, "broken pipe"),
		strings.Contains(m, "eof"):
		return domain.ClassNetworkTransient, false
	}
	return domain.ClassRetryableSameCredential, false
}

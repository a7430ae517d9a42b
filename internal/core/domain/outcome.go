package domain

import (
	"fmt"
	"time"
)

// ErrorClass is the dispatcher-facing category of a failed call.
type ErrorClass string

const (
	ClassNone                    ErrorClass = ""
	ClassRetryableSameCredential ErrorClass = "retryable_same_credential"
	ClassRateLimited             ErrorClass = "rate_limited"
	ClassTerminal                ErrorClass = "terminal"
	ClassNetworkTransient        ErrorClass = "network_transient"
)

// ProviderError carries everything a provider told us about a failure.
type ProviderError struct {
	StatusCode   int
	Code         string
	Message      string
	FinishReason string
	RetryAfter   time.Duration
	Cause        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("provider status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
	case e.Cause != nil && e.Message == "":
		return e.Cause.Error()
	case e.FinishReason != "" && e.Message == "":
		return "finish reason " + e.FinishReason
	default:
		return e.Message
	}
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RawOutcome is what an adapter returns for one call: either Text or Err.
type RawOutcome struct {
	Text string
	Err  *ProviderError
}

// OK reports whether the call produced text.
func (o RawOutcome) OK() bool { return o.Err == nil }

// Success builds a successful outcome.
func Success(text string) RawOutcome { return RawOutcome{Text: text} }

// Failure builds a failed outcome.
func Failure(err *ProviderError) RawOutcome { return RawOutcome{Err: err} }

package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vietddude/lingo/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  *domain.ProviderError
		want domain.ErrorClass
	}{
		{"success", nil, domain.ClassNone},
		{"429", &domain.ProviderError{StatusCode: 429}, domain.ClassRateLimited},
		{"401 rotates", &domain.ProviderError{StatusCode: 401}, domain.ClassRateLimited},
		{"403 rotates", &domain.ProviderError{StatusCode: 403}, domain.ClassRateLimited},
		{"500", &domain.ProviderError{StatusCode: 500}, domain.ClassRetryableSameCredential},
		{"503", &domain.ProviderError{StatusCode: 503}, domain.ClassRetryableSameCredential},
		{"408", &domain.ProviderError{StatusCode: 408}, domain.ClassNetworkTransient},
		{"400", &domain.ProviderError{StatusCode: 400}, domain.ClassTerminal},
		{"413", &domain.ProviderError{StatusCode: 413}, domain.ClassTerminal},
		{"content filter code beats status", &domain.ProviderError{StatusCode: 500, Code: "content_filter"}, domain.ClassTerminal},
		{"rate limit code", &domain.ProviderError{StatusCode: 400, Code: "RESOURCE_EXHAUSTED"}, domain.ClassRateLimited},
		{"truncation", &domain.ProviderError{FinishReason: "length"}, domain.ClassRetryableSameCredential},
		{"max tokens", &domain.ProviderError{FinishReason: "MAX_TOKENS"}, domain.ClassRetryableSameCredential},
		{"safety", &domain.ProviderError{FinishReason: "SAFETY"}, domain.ClassTerminal},
		{"deadline", &domain.ProviderError{Cause: context.DeadlineExceeded}, domain.ClassNetworkTransient},
		{"conn reset", &domain.ProviderError{Cause: fmt.Errorf("read: %w", syscall.ECONNRESET)}, domain.ClassNetworkTransient},
		{"dial", &domain.ProviderError{Cause: &net.OpError{Op: "dial", Err: errors.New("refused")}}, domain.ClassNetworkTransient},
		{"message rate limit", &domain.ProviderError{Message: "Rate limit reached for requests"}, domain.ClassRateLimited},
		{"message timeout", &domain.ProviderError{Message: "upstream timed out"}, domain.ClassNetworkTransient},
		{"unknown", &domain.ProviderError{Message: "something odd"}, domain.ClassRetryableSameCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(domain.RawOutcome{Err: tt.err}))
		})
	}
}

func TestInspect_QuotaExhausted(t *testing.T) {
	v := Inspect(domain.Failure(&domain.ProviderError{StatusCode: 429, Code: "insufficient_quota"}))
	assert.Equal(t, domain.ClassRateLimited, v.Class)
	assert.True(t, v.QuotaExhausted)

	v = Inspect(domain.Failure(&domain.ProviderError{StatusCode: 429, RetryAfter: 3 * time.Second}))
	assert.False(t, v.QuotaExhausted)
	assert.Equal(t, 3*time.Second, v.RetryAfter)
}

func TestInspect_GRPCRetryInfo(t *testing.T) {
	st, err := status.New(codes.ResourceExhausted, "quota exceeded").WithDetails(
		&errdetails.RetryInfo{RetryDelay: durationpb.New(7 * time.Second)},
		&errdetails.QuotaFailure{Violations: []*errdetails.QuotaFailure_Violation{
			{Subject: "GenerateRequestsPerDayPerProjectPerModel"},
		}},
	)
	require.NoError(t, err)

	v := Inspect(domain.Failure(&domain.ProviderError{Cause: st.Err()}))
	assert.Equal(t, domain.ClassRateLimited, v.Class)
	assert.Equal(t, 7*time.Second, v.RetryAfter)
	assert.True(t, v.QuotaExhausted)
}

func TestInspect_GRPCCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want domain.ErrorClass
	}{
		{codes.Unavailable, domain.ClassRetryableSameCredential},
		{codes.DeadlineExceeded, domain.ClassNetworkTransient},
		{codes.InvalidArgument, domain.ClassTerminal},
		{codes.PermissionDenied, domain.ClassRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := fmt.Errorf("call: %w", status.Error(tt.code, "x"))
			assert.Equal(t, tt.want, Classify(domain.Failure(&domain.ProviderError{Cause: err})))
		})
	}
}

func TestClassifierFunc(t *testing.T) {
	var c Classifier = ClassifierFunc(func(domain.RawOutcome) Verdict {
		return Verdict{Class: domain.ClassTerminal}
	})
	assert.Equal(t, domain.ClassTerminal, c.Classify(domain.Failure(&domain.ProviderError{StatusCode: 500})).Class)
}

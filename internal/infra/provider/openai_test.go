package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lingo/internal/core/domain"
	"github.com/vietddude/lingo/internal/dispatch/classify"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(Config{Name: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})
}

var testCred = domain.Credential{ID: "k1", Provider: "test", Secret: "sk-secret"}

func TestOpenAI_Success(t *testing.T) {
	var got chatRequest
	o := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Bonjour"},"finish_reason":"stop"}]}`))
	})

	out := o.Translate(context.Background(), testCred,
		domain.Unit{Payload: "Hello", Context: "Earlier text."},
		domain.Style{TargetLanguage: "fr", Tone: "formal", Glossary: map[string]string{"Lingo": "Lingo"}},
	)

	require.True(t, out.OK())
	assert.Equal(t, "Bonjour", out.Text)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "French")
	assert.Contains(t, got.Messages[0].Content, "formal")
	assert.Contains(t, got.Messages[0].Content, "Lingo => Lingo")
	assert.Contains(t, got.Messages[1].Content, "<context>\nEarlier text.\n</context>")
	assert.True(t, strings.HasSuffix(got.Messages[1].Content, "Hello"))
	assert.Equal(t, 1, o.Health().Requests)
}

func TestOpenAI_RateLimited(t *testing.T) {
	o := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	out := o.Translate(context.Background(), testCred, domain.Unit{Payload: "Hello"}, domain.Style{TargetLanguage: "de"})

	require.False(t, out.OK())
	assert.Equal(t, http.StatusTooManyRequests, out.Err.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", out.Err.Code)
	assert.Equal(t, 7*time.Second, out.Err.RetryAfter)

	v := classify.Inspect(out)
	assert.Equal(t, domain.ClassRateLimited, v.Class)
	assert.Equal(t, 7*time.Second, v.RetryAfter)
}

func TestOpenAI_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  domain.ErrorClass
	}{
		{"server error", 503, `upstream unavailable`, domain.ClassRetryableSameCredential},
		{"content filter", 200, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`, domain.ClassTerminal},
		{"truncated", 200, `{"choices":[{"message":{"content":"Bon"},"finish_reason":"length"}]}`, domain.ClassRetryableSameCredential},
		{"refusal", 200, `{"choices":[{"message":{"refusal":"I can't help"},"finish_reason":"stop"}]}`, domain.ClassTerminal},
		{"bad request", 400, `{"error":{"message":"bad","type":"invalid_request_error","code":null}}`, domain.ClassTerminal},
		{"unauthorized", 401, `{"error":{"message":"bad key","code":"invalid_api_key"}}`, domain.ClassRateLimited},
		{"quota", 429, `{"error":{"message":"out of credit","code":"insufficient_quota"}}`, domain.ClassRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			out := o.Translate(context.Background(), testCred, domain.Unit{Payload: "Hello"}, domain.Style{TargetLanguage: "fr"})
			require.False(t, out.OK())
			assert.Equal(t, tt.class, classify.Classify(out))
		})
	}
}

func TestOpenAI_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewOpenAI(Config{BaseURL: url})
	out := o.Translate(context.Background(), testCred, domain.Unit{Payload: "Hello"}, domain.Style{TargetLanguage: "fr"})

	require.False(t, out.OK())
	assert.Equal(t, domain.ClassNetworkTransient, classify.Classify(out))
	assert.False(t, o.Health().LastFailureAt.IsZero())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

func TestSystemPrompt_Lines(t *testing.T) {
	p := SystemPrompt(domain.Style{SourceLanguage: "en", TargetLanguage: "ja"}, 3)
	assert.Contains(t, p, "from English to Japanese")
	assert.Contains(t, p, "exactly 3 lines")
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "German", LanguageName("de"))
	assert.Equal(t, "Klingon-ish", LanguageName("Klingon-ish"))
	assert.Equal(t, "", LanguageName(" "))
}

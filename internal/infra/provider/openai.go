package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/lingo/internal/core/domain"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	maxSnippet         = 300
)

// OpenAI talks to an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	*healthTracker
}

// OpenAIOption customizes the adapter.
type OpenAIOption func(*OpenAI)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// NewOpenAI creates an adapter for cfg. BaseURL may be the API root or the
// full completions URL.
func NewOpenAI(cfg Config, opts ...OpenAIOption) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	endpoint := base
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}

	o := &OpenAI{
		cfg:      cfg,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		healthTracker: newHealthTracker(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the configured provider name.
func (o *OpenAI) Name() string {
	return o.cfg.Name
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Code    json.RawMessage `json:"code"`
}

// code prefers the symbolic error identifiers providers send.
func (e *apiError) code() string {
	if e == nil {
		return ""
	}
	if len(e.Code) > 0 {
		var s string
		if err := json.Unmarshal(e.Code, &s); err == nil && s != "" {
			return s
		}
	}
	if e.Status != "" {
		return e.Status
	}
	return e.Type
}

// Translate issues one chat completion for the unit.
func (o *OpenAI) Translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome {
	start := time.Now()
	out := o.translate(ctx, cred, unit, style)
	if out.OK() {
		o.recordSuccess(time.Since(start))
	} else {
		o.recordFailure()
	}
	return out
}

func (o *OpenAI) translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome {
	model := style.Model
	if model == "" {
		model = o.cfg.Model
	}
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(style, unit.Lines)},
			{Role: "user", Content: UserPrompt(unit.Payload, unit.Context)},
		},
		MaxTokens: o.cfg.MaxTokens,
	}
	temp := o.cfg.Temperature
	if style.Temperature > 0 {
		temp = style.Temperature
	}
	payload.Temperature = &temp

	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.Failure(&domain.ProviderError{Code: "encode_request", Message: err.Error(), Cause: err})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return domain.Failure(&domain.ProviderError{Code: "build_request", Message: err.Error(), Cause: err})
	}
	req.Header.Set("Authorization", "Bearer "+cred.Secret)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return domain.Failure(&domain.ProviderError{Message: fmt.Sprintf("http error: %v", err), Cause: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Failure(&domain.ProviderError{Message: fmt.Sprintf("read body: %v", err), Cause: err})
	}

	var completion chatResponse
	decodeErr := json.Unmarshal(body, &completion)

	if resp.StatusCode >= http.StatusMultipleChoices {
		perr := &domain.ProviderError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    snippet(body),
		}
		if decodeErr == nil && completion.Error != nil {
			perr.Code = completion.Error.code()
			if completion.Error.Message != "" {
				perr.Message = completion.Error.Message
			}
		}
		return domain.Failure(perr)
	}
	if decodeErr != nil {
		return domain.Failure(&domain.ProviderError{
			Code:    "decode_response",
			Message: fmt.Sprintf("decode response: %v", decodeErr),
			Cause:   decodeErr,
		})
	}
	if completion.Error != nil {
		return domain.Failure(&domain.ProviderError{
			Code:    completion.Error.code(),
			Message: completion.Error.Message,
		})
	}
	if len(completion.Choices) == 0 {
		return domain.Failure(&domain.ProviderError{Code: "empty_choices", Message: "empty choices"})
	}

	choice := completion.Choices[0]
	finish := strings.TrimSpace(choice.FinishReason)
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return domain.Failure(&domain.ProviderError{FinishReason: "refusal", Message: refusal})
	}
	switch finish {
	case "", "stop", "STOP", "end_turn":
	default:
		return domain.Failure(&domain.ProviderError{FinishReason: finish, Message: "finish reason " + finish})
	}

	text := choice.Message.Content
	if text == "" {
		text = choice.Text
	}
	return domain.Success(text)
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

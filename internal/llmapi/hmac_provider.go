package llmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tsingsx/algotest/graph/model"
)

const defaultChatCompletionsURL = "https://open.bigmodel.cn/api/paas/v4/chat/completions"

// RetryPolicy controls how HMACProvider retries a failed call.
type RetryPolicy struct {
	Attempts     int
	Delay        time.Duration
	Backoff      float64
	Timeout      time.Duration
	TimeoutGrowth float64 // multiplier applied to Timeout after each timeout-caused failure
}

// DefaultRetryPolicy mirrors the original service's llm_retry_count=3,
// llm_retry_delay=5s, llm_retry_backoff=2.0, llm_timeout=60s settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 5 * time.Second, Backoff: 2.0, Timeout: 60 * time.Second, TimeoutGrowth: 1.5}
}

// CallFailedError is the typed replacement for the original "API调用失败: ..."
// sentinel string: callers that need to distinguish an exhausted-retry
// failure from a decode error can type-assert on this instead of matching
// text.
type CallFailedError struct {
	Attempts int
	Last     error
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("llmapi: call failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *CallFailedError) Unwrap() error { return e.Last }

// HMACProvider implements model.ChatModel against the Zhipu-AI-style
// chat-completions endpoint, authenticating with a self-issued HMAC-signed
// JWT instead of a static bearer token.
type HMACProvider struct {
	APIKey      string // composite "id.secret" form
	ChatModel   string
	Temperature float64
	MaxTokens   int
	BaseURL     string // defaults to defaultChatCompletionsURL
	Retry       RetryPolicy
	HTTPClient  *http.Client
}

// NewHMACProvider builds a provider with the given credentials and the
// library's default retry policy.
func NewHMACProvider(apiKey, chatModel string, temperature float64, maxTokens int) *HMACProvider {
	return &HMACProvider{
		APIKey:      apiKey,
		ChatModel:   chatModel,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Retry:       DefaultRetryPolicy(),
		HTTPClient:  &http.Client{},
	}
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat implements model.ChatModel. tools is accepted for interface
// conformance but ignored: the endpoint backing this provider does not
// support function calling, matching the original implementation's
// plain-completion usage.
func (p *HMACProvider) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	apiID, apiSecret, err := splitAPIKey(p.APIKey)
	if err != nil {
		return model.ChatOut{}, err
	}

	wireMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{
		Model:       p.ChatModel,
		Messages:    wireMessages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: marshal request: %w", err)
	}

	policy := p.Retry
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	timeout := policy.Timeout
	delay := policy.Delay

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		out, err := p.doCall(ctx, apiID, apiSecret, payload, timeout)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if isTimeoutErr(err) {
			timeout = time.Duration(float64(timeout) * policy.TimeoutGrowth)
		}
		if attempt < policy.Attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.ChatOut{}, ctx.Err()
			}
			delay = time.Duration(float64(delay) * math.Max(policy.Backoff, 1.0))
		}
	}
	return model.ChatOut{}, &CallFailedError{Attempts: policy.Attempts, Last: lastErr}
}

func (p *HMACProvider) doCall(ctx context.Context, apiID, apiSecret string, payload []byte, timeout time.Duration) (model.ChatOut, error) {
	token, err := signJWT(apiID, apiSecret, time.Hour)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: sign jwt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := p.BaseURL
	if url == "" {
		url = defaultChatCompletionsURL
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.ChatOut{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.ChatOut{}, fmt.Errorf("llmapi: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: decode response: %w", err)
	}
	if parsed.Error != nil {
		return model.ChatOut{}, fmt.Errorf("llmapi: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return model.ChatOut{}, fmt.Errorf("llmapi: empty choices in response")
	}

	return model.ChatOut{Text: parsed.Choices[0].Message.Content}, nil
}

// isTimeoutErr walks the error chain looking for anything satisfying the
// net.Error-style Timeout() bool method, which covers both context
// deadline errors and the underlying transport's own timeouts.
func isTimeoutErr(err error) bool {
	for err != nil {
		if te, ok := err.(interface{ Timeout() bool }); ok {
			return te.Timeout()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Package sandbox implements the Sandbox Controller: one transport session
// per Execution workflow run, talking an SSE-framed request/response
// protocol to a remote command executor daemon.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-contrib/sse"
)

// Session is a single SSE connection to the executor daemon, opened once
// per Execution run and reused for every call_tool invocation within that
// run (see the Session Lifetime design note).
type Session struct {
	baseURL     string
	client      *http.Client
	mu          sync.Mutex
	initialized bool
}

// NewSession builds a session targeting the executor daemon at host:port.
// The HTTP client has no timeout of its own; callers pass a context with
// whatever deadline the calling workflow node wants enforced.
func NewSession(host string, port int) *Session {
	return &Session{
		baseURL: fmt.Sprintf("http://%s:%d/sse", host, port),
		client:  &http.Client{},
	}
}

// Initialize performs the handshake required before the first call_tool.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if _, err := s.send(ctx, "initialize", nil); err != nil {
		return fmt.Errorf("sandbox: initialize: %w", err)
	}
	s.initialized = true
	return nil
}

// toolResult is the raw decoded payload of one call_tool response, before
// the 命令执行成功/失败 framing and isError heuristics are applied.
type toolResult struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	IsError bool   `json:"isError"`
	Text    string `json:"text"`
}

// CallTool sends one call_tool request and waits for its single response
// event. The wire protocol frames each request as an SSE "call_tool" event
// whose data is `{"tool":name,"params":params}`, matching the transport
// the original service's MCP session client spoke; the response is an SSE
// event whose data unmarshals into toolResult.
func (s *Session) CallTool(ctx context.Context, name string, params map[string]interface{}) (toolResult, error) {
	if !s.initialized {
		if err := s.Initialize(ctx); err != nil {
			return toolResult{}, err
		}
	}
	return s.send(ctx, name, params)
}

func (s *Session) send(ctx context.Context, name string, params map[string]interface{}) (toolResult, error) {
	body, err := json.Marshal(map[string]interface{}{"tool": name, "params": params})
	if err != nil {
		return toolResult{}, fmt.Errorf("sandbox: marshal request: %w", err)
	}

	var buf bytes.Buffer
	if err := sse.Encode(&buf, sse.Event{Event: "call_tool", Data: string(body)}); err != nil {
		return toolResult{}, fmt.Errorf("sandbox: encode sse frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, &buf)
	if err != nil {
		return toolResult{}, fmt.Errorf("sandbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/event-stream")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return toolResult{}, fmt.Errorf("sandbox: request %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return toolResult{}, fmt.Errorf("sandbox: %s: status %d", name, resp.StatusCode)
	}

	data, err := readOneSSEEvent(resp.Body)
	if err != nil {
		return toolResult{}, fmt.Errorf("sandbox: read response for %s: %w", name, err)
	}

	var result toolResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return toolResult{}, fmt.Errorf("sandbox: decode response for %s: %w", name, err)
	}
	return result, nil
}

// readOneSSEEvent reads "data:" lines up to the first blank line and joins
// them, per the SSE multi-line data convention.
func readOneSSEEvent(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if data.Len() == 0 {
		return "", fmt.Errorf("no data frame found in response")
	}
	return data.String(), nil
}

// Close releases any resources held by the session. The underlying
// transport is plain HTTP with no persistent connection state, so this is
// currently a no-op kept for interface symmetry with the lifecycle
// controller's deferred cleanup.
func (s *Session) Close(ctx context.Context) error {
	_ = ctx
	return nil
}

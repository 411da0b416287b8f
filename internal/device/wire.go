package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// wireClient speaks the raw WebDriver/Appium wire protocol. It owns
// the HTTP plumbing only; session semantics live in Client.
type wireClient struct {
	baseURL   string
	client    *http.Client
	sessionID string
}

func newWireClient(serverURL string, timeout time.Duration) *wireClient {
	base := strings.TrimRight(serverURL, "/")
	// Appium 2 serves the W3C endpoints at the root; Appium 1 used
	// the /wd/hub prefix. Callers pass the full base either way.
	return &wireClient{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

// wireResponse is the W3C envelope; errors arrive inside value.
type wireResponse struct {
	Value json.RawMessage `json:"value"`
}

type wireError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace"`
}

// do performs one wire call. Body may be nil for GET/DELETE.
func (w *wireClient) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("webdriver: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else if method == http.MethodPost {
		reqBody = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("webdriver: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdriver: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdriver: read response: %w", err)
	}

	var envelope wireResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("webdriver: decode response (%s): %w", truncate(string(data), 200), err)
	}

	if resp.StatusCode >= 400 {
		var werr wireError
		_ = json.Unmarshal(envelope.Value, &werr)
		if isSessionGone(resp.StatusCode, werr) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, werr.Message)
		}
		if werr.Error == "no such element" {
			return nil, ErrElementNotFound
		}
		return nil, fmt.Errorf("webdriver: %s %s: %s: %s", method, path, werr.Error, truncate(werr.Message, 300))
	}

	return envelope.Value, nil
}

func isSessionGone(status int, werr wireError) bool {
	switch werr.Error {
	case "invalid session id", "session not created", "no such driver":
		return true
	}
	return status == http.StatusNotFound && strings.Contains(werr.Message, "session")
}

// session issues a call scoped to the current session id.
func (w *wireClient) session(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	if w.sessionID == "" {
		return nil, ErrSessionNotFound
	}
	return w.do(ctx, method, "/session/"+w.sessionID+path, body)
}

// newSession creates a session with the given capabilities and stores
// its id.
func (w *wireClient) newSession(ctx context.Context, capabilities map[string]interface{}) error {
	value, err := w.do(ctx, http.MethodPost, "/session", map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	})
	if err != nil {
		return err
	}

	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &created); err != nil || created.SessionID == "" {
		return fmt.Errorf("webdriver: session response missing id: %s", truncate(string(value), 200))
	}
	w.sessionID = created.SessionID
	return nil
}

// deleteSession tears the session down. Best effort.
func (w *wireClient) deleteSession(ctx context.Context) {
	if w.sessionID == "" {
		return
	}
	_, _ = w.do(ctx, http.MethodDelete, "/session/"+w.sessionID, nil)
	w.sessionID = ""
}

// executeScript runs an Appium "mobile:" extension command.
func (w *wireClient) executeScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	return w.session(ctx, http.MethodPost, "/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
}

// stringValue decodes a plain string W3C value.
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

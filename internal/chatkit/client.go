package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arielgw/castkit/internal/config"
)

const sessionsPath = "/v1/chatkit/sessions"

// SessionParams describes one create-session request to the vendor API.
type SessionParams struct {
	WorkflowID string
	UserID     string
	Metadata   map[string]string
}

// SessionResult carries the upstream response fields the browser needs.
// ExpiresAfter is opaque to the broker and relayed verbatim.
type SessionResult struct {
	ClientSecret string          `json:"client_secret"`
	ExpiresAfter json.RawMessage `json:"expires_after"`
}

// APIError is a non-2xx upstream response with a best-effort extracted message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatkit upstream status %d: %s", e.Status, e.Message)
}

// Client talks to the hosted ChatKit session API. The payload shape is pinned
// by configuration rather than discovered by probing; the one remaining
// compat fallback (drop metadata when the server rejects the parameter) is a
// documented workaround for older API revisions.
type Client struct {
	baseURL   string
	apiKey    string
	placement config.MetadataPlacement
	compat    bool
	client    *http.Client
}

func New(baseURL, apiKey string, placement config.MetadataPlacement, compatFallback bool) *Client {
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:    apiKey,
		placement: placement,
		compat:    compatFallback,
		// No client timeout: the broker applies none to the upstream call,
		// cancellation comes from the request context.
		client: &http.Client{},
	}
}

// CreateSession issues exactly one upstream POST, plus at most one compat
// retry with metadata omitted when the server rejects the metadata parameter.
func (c *Client) CreateSession(ctx context.Context, params SessionParams) (SessionResult, error) {
	if strings.TrimSpace(params.WorkflowID) == "" {
		return SessionResult{}, fmt.Errorf("workflow id is required")
	}

	res, err := c.post(ctx, c.payload(params, c.placement))
	if err == nil {
		return res, nil
	}

	var apiErr *APIError
	if c.compat && len(params.Metadata) > 0 && c.placement != config.MetadataOmit &&
		errors.As(err, &apiErr) && IsMetadataRejection(apiErr.Message) {
		return c.post(ctx, c.payload(params, config.MetadataOmit))
	}
	return SessionResult{}, err
}

func (c *Client) payload(params SessionParams, placement config.MetadataPlacement) map[string]any {
	body := map[string]any{
		"workflow": map[string]any{"id": params.WorkflowID},
		"user":     params.UserID,
	}
	if len(params.Metadata) == 0 {
		return body
	}
	switch placement {
	case config.MetadataTopLevel:
		body["metadata"] = params.Metadata
	case config.MetadataSession:
		body["session"] = map[string]any{"metadata": params.Metadata}
	}
	return body
}

func (c *Client) post(ctx context.Context, payload map[string]any) (SessionResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SessionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, bytes.NewReader(raw))
	if err != nil {
		return SessionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return SessionResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return SessionResult{}, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return SessionResult{}, &APIError{
			Status:  res.StatusCode,
			Message: ExtractMessage(body),
		}
	}

	// Malformed success bodies degrade to an empty result rather than failing.
	var out SessionResult
	_ = json.Unmarshal(body, &out)
	return out, nil
}

// ExtractMessage pulls a human-readable error out of an upstream body,
// checking a top-level message field, then error.message, then the raw text.
func ExtractMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// IsMetadataRejection matches the upstream complaint about an unsupported
// metadata parameter. Brittle by nature; kept only behind the compat flag.
func IsMetadataRejection(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "unknown parameter") && strings.Contains(m, "metadata")
}

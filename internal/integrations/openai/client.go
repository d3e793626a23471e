package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Run statuses reported by the Assistants API.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunRequiresAction = "requires_action"
	RunCancelling     = "cancelling"
	RunCancelled      = "cancelled"
	RunFailed         = "failed"
	RunCompleted      = "completed"
	RunIncomplete     = "incomplete"
	RunExpired        = "expired"
)

// Thread is an assistant conversation.
type Thread struct {
	ID string `json:"id"`
}

// Run is one asynchronous generation job against a thread.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

// messageList is the minimal response shape of GET /threads/{id}/messages.
type messageList struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"data"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the Assistants v2 thread/run endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func endpointURL(baseURL string, parts ...string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return base + "/" + strings.Join(escaped, "/")
}

// CreateThread starts a new empty conversation.
func (c *Client) CreateThread(ctx context.Context) (Thread, error) {
	var t Thread
	if err := c.do(ctx, http.MethodPost, endpointURL(c.baseURL, "threads"), struct{}{}, &t); err != nil {
		return Thread{}, fmt.Errorf("openai: create thread: %w", err)
	}
	if t.ID == "" {
		return Thread{}, errors.New("openai: create thread: response missing id")
	}
	return t, nil
}

// RetrieveThread fetches an existing thread. Unknown or expired ids come back
// as an HTTPStatusError.
func (c *Client) RetrieveThread(ctx context.Context, threadID string) (Thread, error) {
	if threadID == "" {
		return Thread{}, errors.New("openai: thread id must not be empty")
	}
	var t Thread
	if err := c.do(ctx, http.MethodGet, endpointURL(c.baseURL, "threads", threadID), nil, &t); err != nil {
		return Thread{}, fmt.Errorf("openai: retrieve thread: %w", err)
	}
	return t, nil
}

// CreateMessage appends a user turn to the thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, content string) error {
	if threadID == "" {
		return errors.New("openai: thread id must not be empty")
	}
	req := createMessageRequest{Role: "user", Content: content}
	if err := c.do(ctx, http.MethodPost, endpointURL(c.baseURL, "threads", threadID, "messages"), req, nil); err != nil {
		return fmt.Errorf("openai: create message: %w", err)
	}
	return nil
}

// CreateRun starts the assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	if threadID == "" || assistantID == "" {
		return Run{}, errors.New("openai: thread id and assistant id must not be empty")
	}
	var r Run
	req := createRunRequest{AssistantID: assistantID}
	if err := c.do(ctx, http.MethodPost, endpointURL(c.baseURL, "threads", threadID, "runs"), req, &r); err != nil {
		return Run{}, fmt.Errorf("openai: create run: %w", err)
	}
	if r.ID == "" {
		return Run{}, errors.New("openai: create run: response missing id")
	}
	return r, nil
}

// RetrieveRun reports the current state of a run.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	var r Run
	if err := c.do(ctx, http.MethodGet, endpointURL(c.baseURL, "threads", threadID, "runs", runID), nil, &r); err != nil {
		return Run{}, fmt.Errorf("openai: retrieve run: %w", err)
	}
	return r, nil
}

// LatestMessageText returns the text of the newest message in the thread.
func (c *Client) LatestMessageText(ctx context.Context, threadID string) (string, error) {
	u := endpointURL(c.baseURL, "threads", threadID, "messages") + "?order=desc&limit=1"
	var list messageList
	if err := c.do(ctx, http.MethodGet, u, nil, &list); err != nil {
		return "", fmt.Errorf("openai: list messages: %w", err)
	}
	if len(list.Data) == 0 {
		return "", errors.New("openai: no messages in thread")
	}
	for _, part := range list.Data[0].Content {
		if part.Type == "text" && part.Text != nil {
			return part.Text.Value, nil
		}
	}
	return "", errors.New("openai: latest message has no text content")
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

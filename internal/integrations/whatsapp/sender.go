package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wa-assistant-bridge/internal/domain"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"
)

type textMessageRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// DeliveryResult is the Graph API response to a send. A non-2xx result is
// not an error: delivery is best effort and the caller decides what to do.
type DeliveryResult struct {
	StatusCode  int
	ContentType string
	Body        string
}

func (r DeliveryResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender posts text messages through the WhatsApp Cloud API.
type Sender struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	logger        *slog.Logger
}

type Option func(*Sender)

func WithBaseURL(baseURL string) Option {
	return func(s *Sender) {
		s.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithAPIVersion(version string) Option {
	return func(s *Sender) {
		if v := strings.TrimSpace(version); v != "" {
			s.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Sender) {
		s.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSender creates a Sender for the given business phone number.
func NewSender(phoneNumberID, accessToken string, opts ...Option) (*Sender, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("whatsapp: access token must not be empty")
	}
	s := &Sender{
		baseURL:       defaultBaseURL,
		apiVersion:    defaultAPIVersion,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func messagesURL(baseURL, version, phoneNumberID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return fmt.Sprintf("%s/%s/%s/messages", base, version, phoneNumberID)
}

// newTextMessage builds the individual text envelope with link previews disabled.
func newTextMessage(msg domain.OutboundMessage) textMessageRequest {
	return textMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "text",
		Text:             textPayload{PreviewURL: false, Body: msg.Body},
	}
}

// Send issues one POST for msg. Only transport failures are returned as errors.
func (s *Sender) Send(ctx context.Context, msg domain.OutboundMessage) (DeliveryResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return DeliveryResult{}, errors.New("whatsapp: recipient must not be empty")
	}
	body, err := json.Marshal(newTextMessage(msg))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := messagesURL(s.baseURL, s.apiVersion, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("whatsapp: send request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("whatsapp: read response body: %w", err)
	}
	result := DeliveryResult{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        string(buf),
	}

	if !result.OK() {
		s.logger.ErrorContext(ctx, "failed to send message", "to", msg.To, "status", result.StatusCode, "body", result.Body)
	}
	s.logger.InfoContext(ctx, "whatsapp send response",
		"status", result.StatusCode,
		"content_type", result.ContentType,
		"body", result.Body,
	)
	return result, nil
}

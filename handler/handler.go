package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wa-assistant-bridge/internal/domain"
	"wa-assistant-bridge/internal/integrations/whatsapp"
	"wa-assistant-bridge/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	signatureHeader   = "X-Hub-Signature-256"
)

// Replier answers one inbound WhatsApp message.
type Replier interface {
	Reply(ctx context.Context, in domain.InboundMessage) error
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Handler is the WhatsApp webhook endpoint. POST events are always
// acknowledged with 200 so the platform does not redeliver them; failures are
// logged here and nowhere else.
type Handler struct {
	replier     Replier
	verifyToken string
	appSecret   string
	logger      *slog.Logger
}

type Option func(*Handler)

// WithAppSecret enables X-Hub-Signature-256 verification of POST bodies.
func WithAppSecret(secret string) Option {
	return func(h *Handler) {
		h.appSecret = secret
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(r Replier, verifyToken string, opts ...Option) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	h := &Handler{replier: r, verifyToken: verifyToken, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	var resp events.APIGatewayProxyResponse
	switch req.HTTPMethod {
	case http.MethodGet:
		resp = h.verify(ctx, logger, req)
	case http.MethodPost:
		resp = h.receive(ctx, logger, req)
	default:
		resp = jsonResponse(http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "Method not allowed"})
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

// verify answers the webhook subscription handshake.
func (h *Handler) verify(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	mode := req.QueryStringParameters["hub.mode"]
	token := req.QueryStringParameters["hub.verify_token"]
	challenge := req.QueryStringParameters["hub.challenge"]

	if mode == "" || token == "" {
		logger.InfoContext(ctx, "webhook verification missing parameters")
		return jsonResponse(http.StatusBadRequest, statusResponse{Status: "error", Message: "Missing parameters"})
	}
	if mode != "subscribe" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		logger.InfoContext(ctx, "webhook verification failed")
		return jsonResponse(http.StatusForbidden, statusResponse{Status: "error", Message: "Verification failed"})
	}
	logger.InfoContext(ctx, "webhook verified")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       challenge,
	}
}

func (h *Handler) receive(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	ack := jsonResponse(http.StatusOK, statusResponse{Status: "success"})

	body, err := requestBody(req)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request body", "err", err)
		return ack
	}

	if h.appSecret != "" && !validSignature(body, headerValue(req.Headers, signatureHeader), h.appSecret) {
		logger.WarnContext(ctx, "signature verification failed")
		return jsonResponse(http.StatusForbidden, statusResponse{Status: "error", Message: "Invalid signature"})
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnContext(ctx, "failed to decode webhook JSON", "err", err)
		return ack
	}
	if !whatsapp.IsValidMessage(&payload) {
		logger.DebugContext(ctx, "ignoring non-message webhook event", "object", payload.Object)
		return ack
	}

	in, err := whatsapp.ExtractInbound(&payload)
	if err != nil {
		logger.InfoContext(ctx, "ignoring unsupported message", "err", err)
		return ack
	}

	if err := h.replier.Reply(ctx, in); err != nil {
		logFailure(ctx, logger, in, err)
	}
	return ack
}

func logFailure(ctx context.Context, logger *slog.Logger, in domain.InboundMessage, err error) {
	attrs := []any{"wa_id", in.UserID, "message_id", in.MessageID, "err", err}
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		attrs = append(attrs, "code", string(ucErr.Code), "reason", ucErr.Reason)
	}
	if status, ok := usecase.UpstreamStatusCode(err); ok {
		attrs = append(attrs, "upstream_status", status)
	}
	logger.ErrorContext(ctx, "error processing whatsapp message", attrs...)
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// validSignature checks header against "sha256=" + hex(HMAC-SHA256(secret, body)).
func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		buf = []byte(`{"status":"error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"wa-assistant-bridge/internal/domain"
	"wa-assistant-bridge/internal/integrations/whatsapp"
)

// Responder produces the assistant's raw reply to an inbound message.
type Responder interface {
	Respond(ctx context.Context, in domain.InboundMessage) (string, error)
}

// MessageSender delivers a text message to a WhatsApp user.
type MessageSender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (whatsapp.DeliveryResult, error)
}

// ReplyService runs one inbound message through the assistant and sends the
// formatted answer back to the same user. There is no compensation if the
// send fails after the assistant has already answered.
type ReplyService struct {
	responder Responder
	sender    MessageSender
}

func NewReplyService(r Responder, s MessageSender) (*ReplyService, error) {
	if r == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	return &ReplyService{responder: r, sender: s}, nil
}

func (s *ReplyService) Reply(ctx context.Context, in domain.InboundMessage) error {
	raw, err := s.responder.Respond(ctx, in)
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			return ucErr
		}
		return newError(ErrorAssistant, "respond_error", err)
	}

	body := whatsapp.FormatText(raw)
	if body == "" {
		return newError(ErrorAssistant, "empty_reply", nil)
	}

	res, err := s.sender.Send(ctx, domain.OutboundMessage{To: in.UserID, Body: body})
	if err != nil {
		return newError(ErrorDelivery, "send_error", err)
	}
	if !res.OK() {
		return newError(ErrorDelivery, "send_rejected", fmt.Errorf("status %d", res.StatusCode))
	}
	return nil
}

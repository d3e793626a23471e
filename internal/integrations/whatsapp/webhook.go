package whatsapp

import (
	"errors"
	"strings"

	"wa-assistant-bridge/internal/domain"
)

// ErrUnsupportedMessage is returned for events that pass validation but carry
// no contact or no text body (images, reactions, interactive replies).
var ErrUnsupportedMessage = errors.New("whatsapp: unsupported message")

// WebhookPayload is the subset of the Cloud API webhook event the bridge reads.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value *Value `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

type Message struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *TextBody `json:"text,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// Status is a delivery/read receipt. Receipts arrive on the same endpoint as messages.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

func (m Message) empty() bool {
	return m.From == "" && m.ID == "" && m.Type == "" && m.Timestamp == "" && m.Text == nil
}

// IsValidMessage reports whether p has the object marker and a non-empty
// entry → changes → value → messages chain. It never fails; anything else is
// simply not a processable message.
func IsValidMessage(p *WebhookPayload) bool {
	if p == nil || p.Object == "" || len(p.Entry) == 0 {
		return false
	}
	changes := p.Entry[0].Changes
	if len(changes) == 0 || changes[0].Value == nil {
		return false
	}
	msgs := changes[0].Value.Messages
	return len(msgs) > 0 && !msgs[0].empty()
}

// ExtractInbound pulls the sender identity and text from a payload that
// passed IsValidMessage.
func ExtractInbound(p *WebhookPayload) (domain.InboundMessage, error) {
	if !IsValidMessage(p) {
		return domain.InboundMessage{}, errors.New("whatsapp: payload is not a message event")
	}
	value := p.Entry[0].Changes[0].Value
	if len(value.Contacts) == 0 || strings.TrimSpace(value.Contacts[0].WaID) == "" {
		return domain.InboundMessage{}, ErrUnsupportedMessage
	}
	msg := value.Messages[0]
	if msg.Text == nil {
		return domain.InboundMessage{}, ErrUnsupportedMessage
	}
	contact := value.Contacts[0]
	return domain.InboundMessage{
		UserID:      contact.WaID,
		DisplayName: contact.Profile.Name,
		MessageID:   msg.ID,
		Text:        msg.Text.Body,
	}, nil
}

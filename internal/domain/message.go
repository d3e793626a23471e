package domain

// InboundMessage is the user turn extracted from a single webhook event.
type InboundMessage struct {
	UserID      string
	DisplayName string
	MessageID   string
	Text        string
}

// OutboundMessage is a text reply addressed to a single WhatsApp user.
type OutboundMessage struct {
	To   string
	Body string
}

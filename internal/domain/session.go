package domain

import "time"

// Session maps a WhatsApp user to the assistant thread holding their context.
// There is at most one Session per UserID.
type Session struct {
	UserID         string
	ConversationID string
	CreatedAt      time.Time
}

package backend

import "time"

// Event is one raw notification delivered by a source.
// This is the common format that all backends must convert their messages into.
type Event struct {
	// BackendName is the name of the backend that produced this event
	BackendName string `json:"backendName"`

	// ID identifies the notification within its backend type (e.g. "<chat>:<message>")
	ID string `json:"id"`

	// ChatID is the source chat, kept for logging
	ChatID int64 `json:"chatId"`

	// MessageID is the message id within the chat, kept for logging
	MessageID int64 `json:"messageId"`

	// Text is the raw notification text
	Text string `json:"text"`

	// ReceivedAt is when the source published the notification
	ReceivedAt time.Time `json:"receivedAt"`
}

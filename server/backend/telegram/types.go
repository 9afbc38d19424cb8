package telegram

import (
	"fmt"
	"time"
)

// Update is one entry returned by getUpdates. Only channel posts and messages are requested.
type Update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *Message `json:"message,omitempty"`
	ChannelPost *Message `json:"channel_post,omitempty"`
}

// Post returns the message carried by the update, preferring the channel post.
func (u Update) Post() *Message {
	if u.ChannelPost != nil {
		return u.ChannelPost
	}
	return u.Message
}

// Message is the subset of a Telegram message the relay needs.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Time returns the publication time of the message.
func (m Message) Time() time.Time {
	return time.Unix(m.Date, 0).UTC()
}

// Body returns the message text, falling back to the caption of media posts.
func (m Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// Chat identifies where a message was posted.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// ResponseParameters carries the retry hint of a throttled request.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// UpdatesResponse is the Bot API envelope of getUpdates.
// Format: {"ok": true, "result": [...]} or {"ok": false, "error_code": 401, "description": "Unauthorized"}
type UpdatesResponse struct {
	OK          bool                `json:"ok"`
	Result      []Update            `json:"result"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// APIError is a failed Bot API call.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram API error %d", e.Code)
	}
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

package telegram

import (
	"fmt"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

// EventID returns the id of a message, unique per Telegram deployment.
func EventID(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// NormalizeUpdate converts a Telegram update to a normalized backend.Event.
// Returns false for updates without a message or without any text.
func NormalizeUpdate(update Update, backendName string) (*backend.Event, bool) {
	message := update.Post()
	if message == nil {
		return nil, false
	}

	text := message.Body()
	if text == "" {
		return nil, false
	}

	return &backend.Event{
		BackendName: backendName,
		ID:          EventID(message.Chat.ID, message.MessageID),
		ChatID:      message.Chat.ID,
		MessageID:   message.MessageID,
		Text:        text,
		ReceivedAt:  message.Time(),
	}, true
}

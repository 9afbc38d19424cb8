package telegram

import (
	"go.uber.org/zap"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

// AlertProcessor filters updates to the watched chat, drops duplicates and hands the rest on as events.
type AlertProcessor struct {
	logger       *zap.SugaredLogger
	backendType  string
	backendName  string
	chatID       int64
	deduplicator backend.Deduplicator
	handler      backend.EventHandler
}

// NewAlertProcessor creates a new alert processor
func NewAlertProcessor(logger *zap.SugaredLogger, backendType, backendName string, chatID int64, handler backend.EventHandler, deduplicator backend.Deduplicator) *AlertProcessor {
	return &AlertProcessor{
		logger:       logger,
		backendType:  backendType,
		backendName:  backendName,
		chatID:       chatID,
		deduplicator: deduplicator,
		handler:      handler,
	}
}

// ProcessUpdates processes a batch of updates.
// Returns the number of new events handed to the handler (after filtering and deduplication).
func (p *AlertProcessor) ProcessUpdates(updates []Update) int {
	newCount := 0

	for _, update := range updates {
		message := update.Post()
		if message == nil {
			continue
		}

		if message.Chat.ID != p.chatID {
			p.logger.Debugw("Skipping update from another chat",
				"updateId", update.UpdateID,
				"chatId", message.Chat.ID)
			continue
		}

		event, ok := NormalizeUpdate(update, p.backendName)
		if !ok {
			p.logger.Debugw("Skipping update without text", "updateId", update.UpdateID)
			continue
		}

		// Atomically check and record the event (prevents race conditions between backends)
		if p.deduplicator != nil && !p.deduplicator.RecordEvent(p.backendType, event.ID) {
			p.logger.Debugw("Skipping duplicate event", "event_id", event.ID)
			continue
		}

		if p.handler != nil {
			p.handler.Submit(*event)
		}

		newCount++
	}

	return newCount
}

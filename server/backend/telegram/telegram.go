package telegram

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

// init registers the Telegram backend factory
func init() {
	backend.RegisterBackendFactory(backend.TypeTelegram, func(config backend.Config, deps backend.Dependencies) (backend.Backend, error) {
		return New(config, deps)
	})
}

// Backend implements the backend.Backend interface for the Telegram Bot API
type Backend struct {
	config     backend.Config
	logger     *zap.SugaredLogger
	apiClient  *APIClient
	processor  *AlertProcessor
	stateStore *StateStore
	poller     *Poller
	mu         sync.RWMutex
	running    bool
}

// New creates a new Telegram backend instance
func New(config backend.Config, deps backend.Dependencies) (*Backend, error) {
	if config.Type != backend.TypeTelegram {
		return nil, fmt.Errorf("invalid backend type: %s (expected: %s)", config.Type, backend.TypeTelegram)
	}
	if config.ID == "" {
		return nil, fmt.Errorf("backend ID is required")
	}
	if config.URL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if config.ChatID == 0 {
		return nil, fmt.Errorf("chat ID is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	logger := deps.Logger.With("backend", config.Name)
	stateStore := NewStateStore(deps.Store, config.ID)
	apiClient := NewAPIClient(config.URL, config.Token, backend.DefaultLongPollTimeout, logger)
	processor := NewAlertProcessor(logger, config.Type, config.Name, config.ChatID, deps.Handler, deps.Deduplicator)

	pollInterval := time.Duration(config.PollIntervalSeconds) * time.Second
	poller := NewPoller(
		logger,
		deps.Clock,
		config.ID,
		config.Name,
		pollInterval,
		backend.DefaultLongPollTimeout,
		apiClient,
		processor,
		stateStore,
		deps.DisableCallback,
	)

	return &Backend{
		config:     config,
		logger:     logger,
		apiClient:  apiClient,
		processor:  processor,
		stateStore: stateStore,
		poller:     poller,
	}, nil
}

// Start begins the backend's polling lifecycle
func (b *Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("backend already running")
	}

	if !b.config.Enabled {
		return fmt.Errorf("backend is disabled")
	}

	if err := b.poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	b.running = true
	b.logger.Infow("client.connected", "id", b.config.ID, "chat_id", b.config.ChatID)
	return nil
}

// Stop gracefully shuts down the backend
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	if err := b.poller.Stop(); err != nil {
		b.logger.Errorw("Failed to stop poller", "id", b.config.ID, "error", err.Error())
		return fmt.Errorf("failed to stop poller: %w", err)
	}

	b.running = false
	b.logger.Infow("Telegram backend stopped", "id", b.config.ID)
	return nil
}

// GetID returns the unique identifier for this backend
func (b *Backend) GetID() string {
	return b.config.ID
}

// GetName returns the display name for this backend
func (b *Backend) GetName() string {
	return b.config.Name
}

// GetType returns the backend type
func (b *Backend) GetType() string {
	return b.config.Type
}

// GetStatus returns the current operational status of the backend
func (b *Backend) GetStatus() backend.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := backend.Status{
		Enabled: b.config.Enabled && b.running,
	}

	var err error
	if status.LastPollTime, err = b.stateStore.GetLastPoll(); err != nil {
		b.logger.Warnw("Failed to get last poll time", "id", b.config.ID, "error", err.Error())
	}
	if status.LastSuccessTime, err = b.stateStore.GetLastSuccess(); err != nil {
		b.logger.Warnw("Failed to get last success time", "id", b.config.ID, "error", err.Error())
	}
	if status.ConsecutiveFailures, err = b.stateStore.GetFailures(); err != nil {
		b.logger.Warnw("Failed to get failure count", "id", b.config.ID, "error", err.Error())
	}
	if status.LastError, err = b.stateStore.GetLastError(); err != nil {
		b.logger.Warnw("Failed to get last error", "id", b.config.ID, "error", err.Error())
	}
	if status.Cursor, _, err = b.stateStore.GetCursor(); err != nil {
		b.logger.Warnw("Failed to get cursor", "id", b.config.ID, "error", err.Error())
	}

	return status
}

// ClearOperationalState drops the stored cursor so the next start catches up afresh.
func (b *Backend) ClearOperationalState() error {
	return b.stateStore.ClearCursor()
}

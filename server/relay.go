package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
	_ "github.com/mattermost/mattermost-raid-relay/server/backend/telegram" // Register telegram backend factory
	"github.com/mattermost/mattermost-raid-relay/server/formatter"
	"github.com/mattermost/mattermost-raid-relay/server/hashtag"
	"github.com/mattermost/mattermost-raid-relay/server/history"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
	"github.com/mattermost/mattermost-raid-relay/server/kvstore"
	"github.com/mattermost/mattermost-raid-relay/server/metrics"
	"github.com/mattermost/mattermost-raid-relay/server/pipeline"
	"github.com/mattermost/mattermost-raid-relay/server/poster"
	"github.com/mattermost/mattermost-raid-relay/server/translator"
)

// synthesizedBackendIDKey stores the id of the backend built from flags, so its cursor survives
// restarts.
const synthesizedBackendIDKey = "relay_synthesized_backend_id"

// shutdownTimeout bounds the graceful shutdown of the status API.
const shutdownTimeout = 5 * time.Second

// Relay wires the notification sources to the alert pipeline and owns their lifecycle.
type Relay struct {
	logger *zap.SugaredLogger
	clock  clock.Clock

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active configuration. Consult getConfiguration and
	// setConfiguration for usage.
	configuration *configuration

	// backendLock serializes backend lifecycle changes (reloads and auto-disable).
	backendLock sync.Mutex
	stopped     bool

	// registry manages all active backend instances.
	registry *backend.Registry

	// deduplicator is shared across all backends to prevent duplicate alerts
	deduplicator *Deduplicator

	store     *kvstore.Store
	history   *history.Store
	metrics   *metrics.Metrics
	templates *i18n.Store
	directory *hashtag.Directory
	pipeline  *pipeline.Pipeline
	router    *mux.Router
	server    *http.Server
	watcher   *viper.Viper

	fatal    chan error
	stopOnce sync.Once
}

// NewRelay creates a relay for config. Nothing is opened until Start.
func NewRelay(logger *zap.SugaredLogger, config *configuration) *Relay {
	return &Relay{
		logger:        logger,
		clock:         clock.New(),
		configuration: config,
		metrics:       metrics.New(),
		fatal:         make(chan error, 1),
	}
}

// WatchConfig applies backend changes from v's config file while the relay runs.
func (r *Relay) WatchConfig(v *viper.Viper) {
	r.watcher = v
}

// Run starts the relay and blocks until ctx is done or an unrecoverable error occurs.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		r.Stop()
		return err
	}

	var err error
	select {
	case <-ctx.Done():
		r.logger.Infow("Shutting down")
	case err = <-r.fatal:
	}

	r.Stop()
	return err
}

// Start opens the stores, loads templates and members, and starts every enabled backend.
// Any error is a startup misconfiguration.
func (r *Relay) Start() error {
	config := r.getConfiguration()

	store, err := kvstore.Open(config.StatePath)
	if err != nil {
		return err
	}
	r.store = store

	backendID, err := r.synthesizedBackendID()
	if err != nil {
		return err
	}

	config = config.Clone()
	config.resolveBackends(backendID)
	if err := config.IsValid(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	r.setConfiguration(config)

	locale := config.locale()
	r.templates = i18n.NewStore(config.TemplatesDir)
	if err := r.templates.Load(locale); err != nil {
		return errors.Wrapf(err, "failed to load %s templates", locale)
	}

	options := pipeline.Options{
		Locale:                locale,
		IgnoreWithoutMentions: config.IgnoreWithoutMentions,
		Attachments:           config.Attachments,
		Workers:               config.Workers,
		Metrics:               r.metrics,
		OnFatal:               r.onFatal,
		Clock:                 r.clock,
	}

	if config.Members != "" {
		directory, err := hashtag.LoadFile(config.Members, config.Header)
		if err != nil {
			return err
		}
		r.directory = directory
		options.Directory = directory
		r.metrics.SetMembersLoaded(directory.MemberCount())
		r.logger.Infow("members.loaded",
			"members", directory.MemberCount(),
			"hashtags", directory.HashtagCount(),
			"path", config.Members)
	}

	if config.HistoryPath != "" {
		historyStore, err := history.Open(config.HistoryPath)
		if err != nil {
			return err
		}
		r.history = historyStore
		options.History = historyStore
	}

	webhook, err := poster.New(config.WebhookURL, poster.Options{
		Username:    config.Username,
		ChannelName: config.Channel,
		MaxRetries:  config.MaxRetries,
	})
	if err != nil {
		return err
	}

	locations := translator.New(translator.NewGoogleFactory(config.TranslateURL, nil))
	r.pipeline = pipeline.New(r.logger.Named("pipeline"), formatter.New(r.templates, locations), webhook, options)
	r.pipeline.Start()

	r.deduplicator = NewDeduplicator(r.logger, r.clock)
	r.registry = backend.NewRegistry()

	r.backendLock.Lock()
	for _, backendConfig := range config.Backends {
		r.createAndStartBackend(backendConfig)
	}
	r.backendLock.Unlock()

	if config.Listen != "" {
		r.router = r.newRouter()
		r.server = &http.Server{
			Addr:              config.Listen,
			Handler:           r.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go r.serve(r.server)
	}

	if r.watcher != nil {
		r.watcher.OnConfigChange(func(in fsnotify.Event) {
			r.logger.Infow("Configuration file changed", "file", in.Name)
			if err := r.reloadConfiguration(r.watcher); err != nil {
				r.logger.Errorw("Failed to apply configuration change", "error", err.Error())
			}
		})
		r.watcher.WatchConfig()
	}

	r.logger.Infow("Relay started",
		"version", version,
		"locale", locale,
		"backends", len(config.Backends),
		"attachments", config.Attachments)

	return nil
}

func (r *Relay) serve(server *http.Server) {
	r.logger.Infow("Status API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.onFatal(errors.Wrap(err, "status API failed"))
	}
}

// Stop shuts everything down in reverse start order. Queued alerts are delivered first.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if r.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := r.server.Shutdown(ctx); err != nil {
				r.logger.Warnw("Failed to shut down status API", "error", err.Error())
			}
			cancel()
		}

		r.backendLock.Lock()
		r.stopped = true
		if r.registry != nil {
			if err := r.registry.UnregisterAll(); err != nil {
				r.logger.Errorw("Failed to unregister all backends during shutdown", "error", err.Error())
			}
		}
		r.backendLock.Unlock()

		if r.pipeline != nil {
			r.pipeline.Stop()
		}

		if r.deduplicator != nil {
			r.deduplicator.Stop()
		}

		if r.history != nil {
			if err := r.history.Close(); err != nil {
				r.logger.Warnw("Failed to close history", "error", err.Error())
			}
		}

		if r.store != nil {
			if err := r.store.Close(); err != nil {
				r.logger.Warnw("Failed to close state store", "error", err.Error())
			}
		}
	})
}

// onFatal reports an unrecoverable error to Run without blocking the caller.
func (r *Relay) onFatal(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

// synthesizedBackendID returns the stored id of the flag-built backend, creating it on first use.
func (r *Relay) synthesizedBackendID() (string, error) {
	stored, err := r.store.KVGet(synthesizedBackendIDKey)
	if err != nil {
		return "", err
	}
	if len(stored) > 0 {
		return string(stored), nil
	}

	id := backend.NewBackendID()
	if err := r.store.KVSet(synthesizedBackendIDKey, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// getConfiguration retrieves the active configuration under lock. The returned struct is
// considered immutable.
func (r *Relay) getConfiguration() *configuration {
	r.configurationLock.RLock()
	defer r.configurationLock.RUnlock()

	if r.configuration == nil {
		return &configuration{}
	}

	return r.configuration
}

// setConfiguration replaces the active configuration under lock.
//
// This method panics if setConfiguration is called with the existing configuration. This almost
// certainly means that the configuration was modified without being cloned.
func (r *Relay) setConfiguration(config *configuration) {
	r.configurationLock.Lock()
	defer r.configurationLock.Unlock()

	if config != nil && r.configuration == config {
		panic("setConfiguration called with the existing configuration")
	}

	r.configuration = config
}

// createAndStartBackend creates a backend instance and registers it.
// If the backend is enabled, it also starts the backend.
// Logs errors but does not fail - errors are non-fatal for individual backends.
// r.backendLock must be held.
func (r *Relay) createAndStartBackend(config backend.Config) {
	b, err := backend.Create(config, backend.Dependencies{
		Logger:          r.logger.Named(config.Type),
		Store:           r.store,
		Handler:         r.pipeline,
		Deduplicator:    r.deduplicator,
		DisableCallback: r.disableBackend,
		Clock:           r.clock,
	})
	if err != nil {
		r.logger.Errorw("Failed to create backend", "id", config.ID, "name", config.Name, "error", err.Error())
		return
	}

	// Register backend (always register, even if disabled)
	if err := r.registry.Register(b); err != nil {
		r.logger.Errorw("Failed to register backend", "id", config.ID, "name", config.Name, "error", err.Error())
		return
	}

	if !config.Enabled {
		// Clear the cursor of disabled backends so a re-enabled backend catches up afresh
		// instead of replaying everything it missed. Failure tracking stays for status display.
		if err := b.ClearOperationalState(); err != nil {
			r.logger.Warnw("Failed to clear operational state for disabled backend", "id", config.ID, "name", config.Name, "error", err.Error())
		}
		r.logger.Infow("Backend registered but not started (disabled)", "id", config.ID, "name", config.Name)
		return
	}

	if err := b.Start(); err != nil {
		r.logger.Errorw("Failed to start backend", "id", config.ID, "name", config.Name, "error", err.Error())
		// Keep backend registered even if start fails - it will show error state in status
		return
	}

	r.logger.Infow("Backend started successfully", "id", config.ID, "name", config.Name, "type", config.Type)
}

// unregisterBackend unregisters a backend from the registry and logs the result.
func (r *Relay) unregisterBackend(id string, reason string) {
	if err := r.registry.Unregister(id); err != nil {
		r.logger.Warnw("Failed to unregister backend", "id", id, "reason", reason, "error", err.Error())
	} else {
		r.logger.Infow("Unregistered backend", "id", id, "reason", reason)
	}
}

// disableBackend sets a backend's enabled flag to false in the active configuration.
// This is called when a backend reaches MaxConsecutiveFailures. The disabled backend stays
// registered so its failures remain visible in the status API.
func (r *Relay) disableBackend(backendID string) error {
	configClone := r.getConfiguration().Clone()

	found := false
	var backendName string
	for i := range configClone.Backends {
		if configClone.Backends[i].ID == backendID {
			configClone.Backends[i].Enabled = false
			backendName = configClone.Backends[i].Name
			found = true
			break
		}
	}

	if !found {
		return errors.Errorf("backend with ID %s not found in configuration", backendID)
	}

	r.logger.Warnw("Disabling backend after repeated failures", "id", backendID, "name", backendName)

	return r.applyConfiguration(configClone)
}

// reloadConfiguration re-reads v and applies backend changes. Other settings need a restart.
func (r *Relay) reloadConfiguration(v *viper.Viper) error {
	newConfig, err := decodeConfiguration(v)
	if err != nil {
		return err
	}

	oldConfig := r.getConfiguration()

	// Secrets may have come from the keyring rather than the file.
	if newConfig.BotToken == "" {
		newConfig.BotToken = oldConfig.BotToken
	}
	if newConfig.WebhookURL == "" {
		newConfig.WebhookURL = oldConfig.WebhookURL
	}

	backendID, err := r.synthesizedBackendID()
	if err != nil {
		return err
	}
	newConfig.resolveBackends(backendID)

	if err := newConfig.IsValid(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if !sameSettings(oldConfig, newConfig) {
		r.logger.Warnw("Configuration changes other than backends take effect after a restart")
	}

	return r.applyConfiguration(newConfig)
}

// applyConfiguration makes newConfig active and starts, stops or restarts the backends whose
// configuration changed.
func (r *Relay) applyConfiguration(newConfig *configuration) error {
	if err := backend.ValidateBackends(newConfig.Backends); err != nil {
		return errors.Wrap(err, "invalid backend configuration")
	}

	r.backendLock.Lock()
	defer r.backendLock.Unlock()

	oldConfig := r.getConfiguration()

	toAdd, toUpdate, toRemove := backend.DiffBackendConfigs(oldConfig.Backends, newConfig.Backends)

	r.setConfiguration(newConfig)

	if r.registry == nil || r.stopped {
		return nil
	}

	for _, id := range toRemove {
		r.unregisterBackend(id, "backend removed from configuration")
	}

	for _, id := range toUpdate {
		r.unregisterBackend(id, "backend configuration changed")
		if cfg, found := findBackendConfigByID(newConfig.Backends, id); found {
			r.createAndStartBackend(cfg)
		}
	}

	for _, id := range toAdd {
		if cfg, found := findBackendConfigByID(newConfig.Backends, id); found {
			r.createAndStartBackend(cfg)
		}
	}

	return nil
}

package backend

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// EventHandler receives the events a backend produces.
// Submit must not block on formatting or delivery.
type EventHandler interface {
	Submit(event Event)
}

// KVStore persists backend state between restarts.
type KVStore interface {
	KVGet(key string) ([]byte, error)
	KVSet(key string, value []byte) error
	KVDelete(key string) error
}

// Deduplicator is shared across all backends to drop notifications that were already handled.
type Deduplicator interface {
	// RecordEvent returns true the first time an event is seen and false afterwards.
	RecordEvent(backendType, eventID string) bool
}

// DisableCallback is a function type for disabling a backend when it reaches MaxConsecutiveFailures.
// The callback receives the backend ID and must not be called while holding backend locks.
type DisableCallback func(backendID string) error

// Dependencies are the collaborators handed to every backend.
type Dependencies struct {
	Logger          *zap.SugaredLogger
	Store           KVStore
	Handler         EventHandler
	Deduplicator    Deduplicator
	DisableCallback DisableCallback
	Clock           clock.Clock
}

// Factory is a function type that creates a backend instance
type Factory func(config Config, deps Dependencies) (Backend, error)

// factoryRegistry maps backend types to their factory functions
var factoryRegistry = make(map[string]Factory)

// RegisterBackendFactory registers a backend factory for a given type.
// This allows backends to register themselves for creation.
func RegisterBackendFactory(backendType string, factory Factory) {
	factoryRegistry[backendType] = factory
}

// Create creates a new backend instance based on the provided configuration.
// Returns an error if the backend type is unknown or if creation fails.
func Create(config Config, deps Dependencies) (Backend, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("backend type is required")
	}

	factory, exists := factoryRegistry[config.Type]
	if !exists {
		return nil, fmt.Errorf("unknown backend type: %s", config.Type)
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	return factory(config, deps)
}

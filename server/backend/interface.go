package backend

// Backend defines the interface that all backend implementations must satisfy.
// Each backend type (e.g., Telegram) implements this interface to provide
// standardized notification polling and management capabilities.
type Backend interface {
	// Start begins the backend's polling lifecycle.
	// Returns an error if the backend cannot be started.
	Start() error

	// Stop gracefully shuts down the backend, cancelling any in-flight poll.
	Stop() error

	// GetID returns the unique identifier for this backend (UUID v4).
	GetID() string

	// GetName returns the display name for this backend.
	GetName() string

	// GetType returns the backend type (e.g., "telegram").
	GetType() string

	// GetStatus returns the current operational status of the backend.
	GetStatus() Status

	// ClearOperationalState drops the stored cursor so a re-enabled backend catches up afresh.
	// Failure tracking is preserved for status display.
	ClearOperationalState() error
}

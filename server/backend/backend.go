package backend

import "time"

// Config represents the configuration for a backend instance.
// Each backend is uniquely identified by its ID (UUID v4).
type Config struct {
	// ID is the unique stable identifier for this backend (UUID v4, immutable)
	ID string `json:"id" mapstructure:"id"`

	// Name is the display name for this backend (must be unique)
	Name string `json:"name" mapstructure:"name"`

	// Type is the backend type (e.g., "telegram")
	Type string `json:"type" mapstructure:"type"`

	// Enabled indicates whether this backend should be actively polling
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// URL is the base API URL for this backend
	URL string `json:"url" mapstructure:"url"`

	// Token is the bot token used to authenticate against the API
	Token string `json:"-" mapstructure:"token"`

	// ChatID is the chat whose notifications are relayed
	ChatID int64 `json:"chatId" mapstructure:"chat_id"`

	// PollIntervalSeconds is how often to poll this backend (minimum: MinPollIntervalSeconds)
	PollIntervalSeconds int `json:"pollIntervalSeconds" mapstructure:"poll_interval_seconds"`
}

// Status represents the current operational status of a backend instance.
type Status struct {
	// Enabled indicates whether the backend is enabled and running
	Enabled bool `json:"enabled"`

	// LastPollTime is the timestamp of the last poll attempt
	LastPollTime time.Time `json:"lastPollTime"`

	// LastSuccessTime is the timestamp of the last successful poll
	LastSuccessTime time.Time `json:"lastSuccessTime"`

	// ConsecutiveFailures is the count of consecutive polling failures
	ConsecutiveFailures int `json:"consecutiveFailures"`

	// Cursor is the next update offset the backend will request
	Cursor int64 `json:"cursor"`

	// LastError contains the error message from the most recent failure (empty if no error)
	LastError string `json:"lastError"`
}

package backend

import "time"

// Constants for backend behavior and thresholds
const (
	// MaxConsecutiveFailures is the number of consecutive polling failures
	// before a backend is automatically disabled. This prevents runaway
	// error conditions and excessive API calls to failing backends.
	MaxConsecutiveFailures = 5

	// MinPollIntervalSeconds is the minimum allowed poll interval
	MinPollIntervalSeconds = 1

	// DefaultPollIntervalSeconds is the recommended default poll interval
	DefaultPollIntervalSeconds = 1

	// DefaultLongPollTimeout is how long a single poll waits for new messages
	// before returning an empty batch.
	DefaultLongPollTimeout = 25 * time.Second

	// TypeTelegram is the Telegram Bot API backend type
	TypeTelegram = "telegram"

	// DefaultTelegramURL is the Telegram Bot API endpoint
	DefaultTelegramURL = "https://api.telegram.org"
)

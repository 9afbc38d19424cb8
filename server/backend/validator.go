package backend

import (
	"net/url"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SupportedBackendTypes lists the source types the relay can run.
var SupportedBackendTypes = map[string]bool{
	TypeTelegram: true,
}

// ValidateBackends checks every configuration and that ids and names are unique.
// An empty list is valid.
func ValidateBackends(configs []Config) error {
	seenIDs := make(map[string]bool, len(configs))
	seenNames := make(map[string]bool, len(configs))

	for i, config := range configs {
		if err := config.requiredFields(); err != nil {
			return errors.Wrapf(err, "backend configuration at position %d", i+1)
		}
		if err := config.Validate(); err != nil {
			return errors.Wrapf(err, "backend '%s'", config.Name)
		}

		if seenIDs[config.ID] {
			return errors.Errorf("duplicate backend ID found: %s", config.ID)
		}
		seenIDs[config.ID] = true

		if seenNames[config.Name] {
			return errors.Errorf("duplicate backend name found: '%s'", config.Name)
		}
		seenNames[config.Name] = true
	}

	return nil
}

// Validate checks a single backend configuration.
func (c Config) Validate() error {
	if err := c.requiredFields(); err != nil {
		return err
	}

	if err := validateUUID(c.ID); err != nil {
		return err
	}
	if !SupportedBackendTypes[c.Type] {
		return errors.Errorf("unsupported type '%s' (only '%s' is currently supported)", c.Type, TypeTelegram)
	}
	if err := validateURL(c.URL); err != nil {
		return err
	}
	if c.PollIntervalSeconds < MinPollIntervalSeconds {
		return errors.Errorf("poll interval must be at least %d seconds (got %d)", MinPollIntervalSeconds, c.PollIntervalSeconds)
	}

	return nil
}

func (c Config) requiredFields() error {
	for _, field := range []struct {
		name    string
		missing bool
		hint    string
	}{
		{"id", c.ID == "", ""},
		{"name", c.Name == "", ""},
		{"type", c.Type == "", ""},
		{"url", c.URL == "", ""},
		{"token", c.Token == "", ""},
		{"chat_id", c.ChatID == 0, "the bot must be an administrator of the source channel, e.g. a channel forwarding t.me/air_alert_ua"},
		{"poll_interval_seconds", c.PollIntervalSeconds == 0, ""},
	} {
		if !field.missing {
			continue
		}
		if field.hint != "" {
			return errors.Errorf("missing required field '%s' (%s)", field.name, field.hint)
		}
		return errors.Errorf("missing required field '%s'", field.name)
	}
	return nil
}

// validateUUID requires a UUID v4.
func validateUUID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return errors.Wrap(err, "invalid UUID format for id")
	}
	if parsed.Version() != 4 {
		return errors.Errorf("id must be a UUID v4 (got version %d)", parsed.Version())
	}
	return nil
}

// validateURL requires an https URL with a host. The bot token travels in the path.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid url format")
	}
	if parsed.Scheme != "https" {
		return errors.Errorf("url must use HTTPS (got %s)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url must include a hostname")
	}
	return nil
}

// NewBackendID returns a fresh UUID v4 for a synthesized backend.
func NewBackendID() string {
	return uuid.NewString()
}

// DiffBackendConfigs compares old and new backend configurations and returns IDs to add, update, and remove.
func DiffBackendConfigs(oldConfigs, newConfigs []Config) (toAdd, toUpdate, toRemove []string) {
	oldMap := make(map[string]Config)
	newMap := make(map[string]Config)

	for _, cfg := range oldConfigs {
		oldMap[cfg.ID] = cfg
	}

	for _, cfg := range newConfigs {
		newMap[cfg.ID] = cfg
	}

	for id, newCfg := range newMap {
		if oldCfg, exists := oldMap[id]; !exists {
			toAdd = append(toAdd, id)
		} else if oldCfg != newCfg {
			toUpdate = append(toUpdate, id)
		}
	}

	for id := range oldMap {
		if _, exists := newMap[id]; !exists {
			toRemove = append(toRemove, id)
		}
	}

	return toAdd, toUpdate, toRemove
}

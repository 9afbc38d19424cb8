package main

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

// configuration captures the relay's settings, merged from flag defaults, an optional config
// file, environment variables and explicitly set flags, in increasing order of precedence.
//
// Access to the active configuration is synchronized by guarding a pointer to it and cloning the
// entire struct whenever it changes. If you add reference types to the struct, extend Clone.
type configuration struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	Channel    string `mapstructure:"channel"`
	MaxRetries int    `mapstructure:"max_retries"`

	BotToken            string `mapstructure:"bot_token"`
	TelegramURL         string `mapstructure:"telegram_url"`
	ChatID              int64  `mapstructure:"chat_id"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`

	Members               string `mapstructure:"members"`
	Header                bool   `mapstructure:"header"`
	IgnoreWithoutMentions bool   `mapstructure:"ignore_without_mentions"`

	Locale       string `mapstructure:"locale"`
	TemplatesDir string `mapstructure:"templates_dir"`
	TranslateURL string `mapstructure:"translate_url"`
	Attachments  bool   `mapstructure:"attachments"`
	Workers      int    `mapstructure:"workers"`

	StatePath   string `mapstructure:"state"`
	HistoryPath string `mapstructure:"history"`
	KeyringDir  string `mapstructure:"keyring_dir"`

	Listen   string `mapstructure:"listen"`
	APIToken string `mapstructure:"api_token"`

	// Backends is an array of backend configurations.
	// Each backend defines a separate notification source to poll.
	// When the file lists none, one Telegram backend is built from the flags.
	Backends []backend.Config `mapstructure:"backends"`
}

// Clone creates a deep copy of the configuration.
func (c *configuration) Clone() *configuration {
	clone := *c

	if c.Backends != nil {
		clone.Backends = make([]backend.Config, len(c.Backends))
		copy(clone.Backends, c.Backends)
	}

	return &clone
}

// locale returns the parsed output locale. IsValid has already rejected unknown values.
func (c *configuration) locale() i18n.Locale {
	locale, err := i18n.ParseLocale(c.Locale)
	if err != nil {
		return i18n.SourceLocale
	}
	return locale
}

// resolveBackends fills in the backend list. Without configured backends a single Telegram
// backend is synthesized under backendID. Configured backends inherit the flag values they leave
// unset.
func (c *configuration) resolveBackends(backendID string) {
	if len(c.Backends) == 0 {
		c.Backends = []backend.Config{{
			ID:                  backendID,
			Name:                "telegram",
			Type:                backend.TypeTelegram,
			Enabled:             true,
			URL:                 c.TelegramURL,
			Token:               c.BotToken,
			ChatID:              c.ChatID,
			PollIntervalSeconds: c.PollIntervalSeconds,
		}}
		return
	}

	for i := range c.Backends {
		if c.Backends[i].Token == "" {
			c.Backends[i].Token = c.BotToken
		}
		if c.Backends[i].URL == "" {
			c.Backends[i].URL = c.TelegramURL
		}
		if c.Backends[i].ChatID == 0 {
			c.Backends[i].ChatID = c.ChatID
		}
		if c.Backends[i].PollIntervalSeconds == 0 {
			c.Backends[i].PollIntervalSeconds = c.PollIntervalSeconds
		}
	}
}

// IsValid reports the first problem that prevents the relay from starting.
func (c *configuration) IsValid() error {
	if c.WebhookURL == "" {
		return errors.New("webhook URL is required")
	}
	parsed, err := url.Parse(c.WebhookURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.Errorf("webhook URL %q must be an absolute http(s) URL", c.WebhookURL)
	}

	if _, err := i18n.ParseLocale(c.Locale); err != nil {
		return err
	}

	if c.MaxRetries < 0 {
		return errors.Errorf("max retries must not be negative (got %d)", c.MaxRetries)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative (got %d)", c.Workers)
	}
	if c.StatePath == "" {
		return errors.New("state path is required")
	}
	if err := backend.ValidateBackends(c.Backends); err != nil {
		return errors.Wrap(err, "invalid backend configuration")
	}

	return nil
}

// configKeys maps each configuration key to the CLI flag that overrides it.
var configKeys = map[string]string{
	"webhook_url":             flagWebhookURL,
	"username":                flagUsername,
	"channel":                 flagChannel,
	"max_retries":             flagMaxRetries,
	"bot_token":               flagBotToken,
	"telegram_url":            flagTelegramURL,
	"chat_id":                 flagChatID,
	"poll_interval_seconds":   flagPollInterval,
	"members":                 flagMembers,
	"header":                  flagHeader,
	"ignore_without_mentions": flagIgnoreWithoutMentions,
	"locale":                  flagLocale,
	"templates_dir":           flagTemplatesDir,
	"translate_url":           flagTranslateURL,
	"attachments":             flagAttachments,
	"workers":                 flagWorkers,
	"state":                   flagState,
	"history":                 flagHistory,
	"keyring_dir":             flagKeyringDir,
	"listen":                  flagListen,
	"api_token":               flagAPIToken,
}

// flagValues is the subset of a CLI context the configuration loader needs.
type flagValues interface {
	IsSet(name string) bool
	Value(name string) interface{}
}

// loadConfiguration merges flag defaults, the optional config file and explicitly set flags.
// The returned viper instance can watch the file for changes.
func loadConfiguration(flags flagValues, configFile string) (*configuration, *viper.Viper, error) {
	v := viper.New()

	for key, flag := range configKeys {
		v.SetDefault(key, flags.Value(flag))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	for key, flag := range configKeys {
		if flags.IsSet(flag) {
			v.Set(key, flags.Value(flag))
		}
	}

	config, err := decodeConfiguration(v)
	if err != nil {
		return nil, nil, err
	}

	return config, v, nil
}

func decodeConfiguration(v *viper.Viper) (*configuration, error) {
	config := new(configuration)
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	config.Locale = strings.TrimSpace(config.Locale)
	config.WebhookURL = strings.TrimSpace(config.WebhookURL)

	return config, nil
}

// findBackendConfigByID finds a backend configuration by ID in a slice of configs.
// Returns the config and true if found, or an empty config and false if not found.
func findBackendConfigByID(configs []backend.Config, id string) (backend.Config, bool) {
	for _, cfg := range configs {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return backend.Config{}, false
}

// sameSettings reports whether a and b differ in anything but their backends.
func sameSettings(a, b *configuration) bool {
	a, b = a.Clone(), b.Clone()
	a.Backends, b.Backends = nil, nil
	return reflect.DeepEqual(a, b)
}

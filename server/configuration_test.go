package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

const (
	testBackendID  = "550e8400-e29b-41d4-a716-446655440000"
	otherBackendID = "6ba7b810-9dad-41d1-80b4-00c04fd430c8"

	// testChatID is a channel the bot administers.
	testChatID int64 = -1001234567890
)

// fakeFlags mimics a CLI context: defaults are always visible, set marks explicit flags.
type fakeFlags struct {
	defaults map[string]interface{}
	set      map[string]interface{}
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{
		defaults: map[string]interface{}{
			flagWebhookURL:            "",
			flagUsername:              "",
			flagChannel:               "",
			flagMaxRetries:            3,
			flagBotToken:              "",
			flagTelegramURL:           backend.DefaultTelegramURL,
			flagChatID:                int64(0),
			flagPollInterval:          backend.DefaultPollIntervalSeconds,
			flagMembers:               "",
			flagHeader:                true,
			flagIgnoreWithoutMentions: true,
			flagLocale:                "uk",
			flagTemplatesDir:          "",
			flagTranslateURL:          "https://translate.example.com",
			flagAttachments:           false,
			flagWorkers:               4,
			flagState:                 "raid-state.db",
			flagHistory:               "raid-history.db",
			flagKeyringDir:            "",
			flagListen:                "",
			flagAPIToken:              "",
		},
		set: map[string]interface{}{},
	}
}

func (f *fakeFlags) IsSet(name string) bool {
	_, ok := f.set[name]
	return ok
}

func (f *fakeFlags) Value(name string) interface{} {
	if value, ok := f.set[name]; ok {
		return value
	}
	return f.defaults[name]
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfiguration() *configuration {
	return &configuration{
		WebhookURL:          "https://chat.example.com/hooks/abc",
		BotToken:            "123456:ABC-DEF",
		TelegramURL:         backend.DefaultTelegramURL,
		ChatID:              testChatID,
		PollIntervalSeconds: 1,
		Locale:              "uk",
		Workers:             4,
		MaxRetries:          3,
		StatePath:           "raid-state.db",
	}
}

func TestLoadConfiguration_FlagDefaults(t *testing.T) {
	flags := newFakeFlags()
	flags.set[flagWebhookURL] = " https://chat.example.com/hooks/abc "

	config, v, err := loadConfiguration(flags, "")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "https://chat.example.com/hooks/abc", config.WebhookURL)
	assert.Equal(t, "uk", config.Locale)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Zero(t, config.ChatID, "the channel has no default")
	assert.Equal(t, 4, config.Workers)
	assert.True(t, config.Header)
	assert.True(t, config.IgnoreWithoutMentions)
	assert.Empty(t, config.Backends)
}

func TestLoadConfiguration_FileAndFlagPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
webhook_url: https://chat.example.com/hooks/from-file
locale: en
workers: 8
attachments: true
backends:
  - id: `+testBackendID+`
    name: Air alerts
    type: telegram
    enabled: true
    chat_id: -100123
  - id: `+otherBackendID+`
    name: Mirror
    type: telegram
    enabled: false
    url: https://mirror.example.com
    token: "999:XYZ"
    poll_interval_seconds: 10
`)

	flags := newFakeFlags()
	flags.set[flagLocale] = "uk"

	config, _, err := loadConfiguration(flags, path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/hooks/from-file", config.WebhookURL, "file overrides defaults")
	assert.Equal(t, "uk", config.Locale, "explicit flags override the file")
	assert.Equal(t, 8, config.Workers)
	assert.True(t, config.Attachments)

	require.Len(t, config.Backends, 2)
	assert.Equal(t, backend.Config{
		ID:      testBackendID,
		Name:    "Air alerts",
		Type:    backend.TypeTelegram,
		Enabled: true,
		ChatID:  -100123,
	}, config.Backends[0])
	assert.Equal(t, "999:XYZ", config.Backends[1].Token)
	assert.Equal(t, 10, config.Backends[1].PollIntervalSeconds)
}

func TestLoadConfiguration_MissingFile(t *testing.T) {
	_, _, err := loadConfiguration(newFakeFlags(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfiguration_ResolveBackends(t *testing.T) {
	t.Run("synthesizes a telegram backend from flags", func(t *testing.T) {
		config := validConfiguration()
		config.resolveBackends(testBackendID)

		require.Len(t, config.Backends, 1)
		assert.Equal(t, backend.Config{
			ID:                  testBackendID,
			Name:                "telegram",
			Type:                backend.TypeTelegram,
			Enabled:             true,
			URL:                 backend.DefaultTelegramURL,
			Token:               "123456:ABC-DEF",
			ChatID:              testChatID,
			PollIntervalSeconds: 1,
		}, config.Backends[0])
		require.NoError(t, config.IsValid())
	})

	t.Run("configured backends inherit unset values", func(t *testing.T) {
		config := validConfiguration()
		config.Backends = []backend.Config{
			{ID: testBackendID, Name: "Air alerts", Type: backend.TypeTelegram, Enabled: true},
			{ID: otherBackendID, Name: "Mirror", Type: backend.TypeTelegram, URL: "https://mirror.example.com", Token: "999:XYZ", ChatID: -5, PollIntervalSeconds: 10},
		}
		config.resolveBackends("ignored")

		require.Len(t, config.Backends, 2)
		assert.Equal(t, "123456:ABC-DEF", config.Backends[0].Token)
		assert.Equal(t, backend.DefaultTelegramURL, config.Backends[0].URL)
		assert.Equal(t, testChatID, config.Backends[0].ChatID)
		assert.Equal(t, 1, config.Backends[0].PollIntervalSeconds)

		assert.Equal(t, "999:XYZ", config.Backends[1].Token)
		assert.Equal(t, "https://mirror.example.com", config.Backends[1].URL)
		assert.Equal(t, int64(-5), config.Backends[1].ChatID)
		assert.Equal(t, 10, config.Backends[1].PollIntervalSeconds)
	})
}

func TestConfiguration_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*configuration)
		errorMsg string
	}{
		{"valid", func(*configuration) {}, ""},
		{"missing webhook", func(c *configuration) { c.WebhookURL = "" }, "webhook URL is required"},
		{"relative webhook", func(c *configuration) { c.WebhookURL = "/hooks/abc" }, "must be an absolute http(s) URL"},
		{"ftp webhook", func(c *configuration) { c.WebhookURL = "ftp://chat.example.com/hooks" }, "must be an absolute http(s) URL"},
		{"unknown locale", func(c *configuration) { c.Locale = "de" }, "de"},
		{"negative retries", func(c *configuration) { c.MaxRetries = -1 }, "max retries must not be negative"},
		{"negative workers", func(c *configuration) { c.Workers = -2 }, "workers must not be negative"},
		{"missing state", func(c *configuration) { c.StatePath = "" }, "state path is required"},
		{"backend without token", func(c *configuration) { c.Backends[0].Token = "" }, "invalid backend configuration"},
		{"missing chat id", func(c *configuration) { c.Backends[0].ChatID = 0 }, "the bot must be an administrator of the source channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfiguration()
			config.resolveBackends(testBackendID)
			tt.mutate(config)

			err := config.IsValid()
			if tt.errorMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestConfiguration_Locale(t *testing.T) {
	config := validConfiguration()
	assert.Equal(t, i18n.Ukrainian, config.locale())

	config.Locale = "en"
	assert.Equal(t, i18n.English, config.locale())

	config.Locale = "xx"
	assert.Equal(t, i18n.SourceLocale, config.locale())
}

func TestConfiguration_Clone(t *testing.T) {
	config := validConfiguration()
	config.resolveBackends(testBackendID)

	clone := config.Clone()
	clone.Backends[0].Enabled = false
	clone.Workers = 1

	assert.True(t, config.Backends[0].Enabled)
	assert.Equal(t, 4, config.Workers)
}

func TestSameSettings(t *testing.T) {
	a := validConfiguration()
	a.resolveBackends(testBackendID)

	b := a.Clone()
	b.Backends[0].Enabled = false
	assert.True(t, sameSettings(a, b), "backend changes are ignored")

	b.Attachments = true
	assert.False(t, sameSettings(a, b))
}

func TestFindBackendConfigByID(t *testing.T) {
	configs := []backend.Config{{ID: testBackendID, Name: "Air alerts"}}

	found, ok := findBackendConfigByID(configs, testBackendID)
	require.True(t, ok)
	assert.Equal(t, "Air alerts", found.Name)

	_, ok = findBackendConfigByID(configs, otherBackendID)
	assert.False(t, ok)
}

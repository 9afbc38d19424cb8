package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
	"github.com/mattermost/mattermost-raid-relay/server/credential"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
	"github.com/mattermost/mattermost-raid-relay/server/poster"
	"github.com/mattermost/mattermost-raid-relay/server/translator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const appName = "raid"

const (
	flagConfig                = "config"
	flagWatchConfig           = "watch-config"
	flagWebhookURL            = "webhook-url"
	flagUsername              = "username"
	flagChannel               = "channel"
	flagMaxRetries            = "max-retries"
	flagBotToken              = "bot-token"
	flagTelegramURL           = "telegram-url"
	flagChatID                = "chat-id"
	flagPollInterval          = "poll-interval"
	flagMembers               = "members"
	flagHeader                = "header"
	flagIgnoreWithoutMentions = "ignore-without-mentions"
	flagLocale                = "locale"
	flagTemplatesDir          = "templates-dir"
	flagTranslateURL          = "translate-url"
	flagAttachments           = "attachments"
	flagWorkers               = "workers"
	flagState                 = "state"
	flagHistory               = "history"
	flagKeyringDir            = "keyring-dir"
	flagListen                = "listen"
	flagAPIToken              = "api-token"
	flagVerbose               = "verbose"
	flagDebug                 = "debug"
	flagLogFormat             = "log-format"
	flagLogFile               = "log-file"
)

func env(name string) []string {
	return []string{"RAID_" + name}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "%s: %s\n", appName, c.App.Version)
	}
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version and exit",
	}

	return &cli.App{
		Name:      appName,
		Usage:     "Relay air raid and artillery alerts from a Telegram channel to a chat webhook",
		UsageText: "raid --webhook-url URL --chat-id ID [--members members.csv] [options]",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, EnvVars: env("CONFIG"), Usage: "optional YAML configuration file"},
			&cli.BoolFlag{Name: flagWatchConfig, EnvVars: env("WATCH_CONFIG"), Usage: "apply backend changes when the configuration file changes"},

			&cli.StringFlag{Name: flagWebhookURL, EnvVars: env("WEBHOOK_URL"), Usage: "incoming webhook URL (read from the keyring when empty)"},
			&cli.StringFlag{Name: flagUsername, EnvVars: env("USERNAME"), Usage: "override the webhook's display name"},
			&cli.StringFlag{Name: flagChannel, EnvVars: env("CHANNEL"), Usage: "override the webhook's channel"},
			&cli.IntFlag{Name: flagMaxRetries, EnvVars: env("MAX_RETRIES"), Value: poster.DefaultMaxRetries, Usage: "webhook retries on connection errors, 429 and 5xx"},

			&cli.StringFlag{Name: flagBotToken, EnvVars: env("BOT_TOKEN"), Usage: "Telegram bot token (read from the keyring when empty)"},
			&cli.StringFlag{Name: flagTelegramURL, EnvVars: env("TELEGRAM_URL"), Value: backend.DefaultTelegramURL, Usage: "Telegram Bot API base URL"},
			&cli.Int64Flag{Name: flagChatID, EnvVars: env("CHAT_ID"), Usage: "id of the channel to relay (required); the bot must be an administrator of it, e.g. a channel forwarding t.me/air_alert_ua"},
			&cli.IntFlag{Name: flagPollInterval, EnvVars: env("POLL_INTERVAL"), Value: backend.DefaultPollIntervalSeconds, Usage: "seconds between two long polls"},

			&cli.StringFlag{Name: flagMembers, Aliases: []string{"m"}, EnvVars: env("MEMBERS"), Usage: "CSV file of member_id,hashtag rows to mention"},
			&cli.BoolFlag{Name: flagHeader, EnvVars: env("HEADER"), Value: true, Usage: "the members CSV starts with a header row"},
			&cli.BoolFlag{Name: flagIgnoreWithoutMentions, EnvVars: env("IGNORE_WITHOUT_MENTIONS"), Value: true, Usage: "skip alerts nobody is mentioned for (needs --members)"},

			&cli.StringFlag{Name: flagLocale, Aliases: []string{"l"}, EnvVars: env("LOCALE"), Value: string(i18n.SourceLocale), Usage: "message locale (en or uk)"},
			&cli.StringFlag{Name: flagTemplatesDir, EnvVars: env("TEMPLATES_DIR"), Usage: "directory of <locale>.yaml template overrides"},
			&cli.StringFlag{Name: flagTranslateURL, EnvVars: env("TRANSLATE_URL"), Value: translator.DefaultGoogleURL, Usage: "location translation service URL"},
			&cli.BoolFlag{Name: flagAttachments, EnvVars: env("ATTACHMENTS"), Usage: "send each alert as a colored attachment"},
			&cli.IntFlag{Name: flagWorkers, EnvVars: env("WORKERS"), Value: 4, Usage: "alerts formatted and delivered concurrently"},

			&cli.StringFlag{Name: flagState, EnvVars: env("STATE"), Value: "raid-state.db", Usage: "source state file (cursor, failures)"},
			&cli.StringFlag{Name: flagHistory, EnvVars: env("HISTORY"), Value: "raid-history.db", Usage: "delivery history database, empty to disable"},
			&cli.StringFlag{Name: flagKeyringDir, EnvVars: env("KEYRING_DIR"), Value: "~/.config/raid-relay/credentials", Usage: "file keyring location when no OS keyring is available"},

			&cli.StringFlag{Name: flagListen, EnvVars: env("LISTEN"), Usage: "address of the status API, e.g. :8080 (disabled when empty)"},
			&cli.StringFlag{Name: flagAPIToken, EnvVars: env("API_TOKEN"), Usage: "bearer token required by the status API"},

			&cli.BoolFlag{Name: flagVerbose, Aliases: []string{"v"}, EnvVars: env("VERBOSE"), Usage: "log informational events"},
			&cli.BoolFlag{Name: flagDebug, EnvVars: env("DEBUG"), Usage: "log debug events"},
			&cli.StringFlag{Name: flagLogFormat, EnvVars: env("LOG_FORMAT"), Value: "console", Usage: "console or json"},
			&cli.StringFlag{Name: flagLogFile, EnvVars: env("LOG_FILE"), Usage: "write the log to a rotated file instead of stderr"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logger, closer, err := newLogger(loggingConfig{
		Verbose: c.Bool(flagVerbose),
		Debug:   c.Bool(flagDebug),
		Format:  c.String(flagLogFormat),
		File:    c.String(flagLogFile),
	}, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer closer.Close()
	defer logger.Sync() //nolint:errcheck

	config, v, err := loadConfiguration(c, c.String(flagConfig))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if config.BotToken == "" || config.WebhookURL == "" {
		if err := resolveSecrets(config); err != nil {
			logger.Warnw("Failed to read secrets from the keyring", "error", err.Error())
		}
	}

	relay := NewRelay(logger, config)
	if c.Bool(flagWatchConfig) && c.String(flagConfig) != "" {
		relay.WatchConfig(v)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		logger.Errorw("Relay stopped", "error", err.Error())
		return cli.Exit(err.Error(), 1)
	}

	return nil
}

// resolveSecrets fills the bot token and webhook URL from the keyring when no flag set them.
func resolveSecrets(config *configuration) error {
	store, err := credential.Open(config.KeyringDir)
	if err != nil {
		return err
	}

	if config.BotToken, err = store.Resolve(config.BotToken, credential.BotTokenKey); err != nil {
		return err
	}
	config.WebhookURL, err = store.Resolve(config.WebhookURL, credential.WebhookURLKey)
	return err
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

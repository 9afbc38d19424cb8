package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mattermost/mattermost-raid-relay/server/alert"
	"github.com/mattermost/mattermost-raid-relay/server/backend"
	"github.com/mattermost/mattermost-raid-relay/server/formatter"
	"github.com/mattermost/mattermost-raid-relay/server/history"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
	"github.com/mattermost/mattermost-raid-relay/server/metrics"
	"github.com/mattermost/mattermost-raid-relay/server/poster"
	"github.com/mattermost/mattermost-raid-relay/server/translator"
)

const (
	// DefaultWorkers is the number of events handled concurrently.
	DefaultWorkers = 4

	// DefaultQueueSize bounds the events waiting for a worker.
	DefaultQueueSize = 64
)

// Outcome is the result of handling one event.
type Outcome string

const (
	OutcomeNotParsed Outcome = "not_parsed"
	OutcomeSkipped   Outcome = Outcome(history.OutcomeSkipped)
	OutcomeSent      Outcome = Outcome(history.OutcomeSent)
	OutcomeNotSent   Outcome = Outcome(history.OutcomeNotSent)
)

// Formatter renders an alert for a locale.
type Formatter interface {
	Format(ctx context.Context, a alert.Alert, recipients []string, locale i18n.Locale) (string, error)
}

// Poster delivers a formatted message.
type Poster interface {
	Post(ctx context.Context, msg poster.Message) error
}

// Directory maps a hashtag to the ids of the members to mention.
type Directory interface {
	Recipients(hashtag string) []string
}

// History records what happened to each parsed alert.
type History interface {
	Record(ctx context.Context, entry history.Entry) (int64, error)
}

// Metrics counts pipeline activity.
type Metrics interface {
	EventReceived(backendName string)
	AlertHandled(outcome, threat, status string)
	Error(kind string)
	ObserveDelivery(d time.Duration)
	SetQueueDepth(depth int)
}

// FatalFunc is called once with the first unrecoverable error. It must not block.
type FatalFunc func(err error)

// Options configures a Pipeline.
type Options struct {
	Locale i18n.Locale

	// Directory is optional. Without one no alert has recipients and IgnoreWithoutMentions
	// has no effect.
	Directory             Directory
	IgnoreWithoutMentions bool

	// Attachments sends each message as a status coloured attachment instead of plain text.
	Attachments bool

	Workers   int
	QueueSize int

	History History
	Metrics Metrics
	OnFatal FatalFunc
	Clock   clock.Clock
}

// Pipeline turns source events into delivered alerts on a pool of workers.
type Pipeline struct {
	logger    *zap.SugaredLogger
	formatter Formatter
	poster    Poster
	opts      Options

	queue   chan backend.Event
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	extra   sync.WaitGroup

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopOnce sync.Once

	fatalOnce sync.Once
}

// New creates a pipeline. Call Start before submitting events.
func New(logger *zap.SugaredLogger, f Formatter, p Poster, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Locale == "" {
		opts.Locale = i18n.SourceLocale
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		logger:    logger,
		formatter: f,
		poster:    p,
		opts:      opts,
		queue:     make(chan backend.Event, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.opts.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}

	p.logger.Infow("Pipeline started", "workers", p.opts.Workers, "locale", p.opts.Locale)
}

func (p *Pipeline) worker() {
	defer p.workers.Done()

	for event := range p.queue {
		p.opts.Metrics.SetQueueDepth(len(p.queue))
		p.Handle(p.ctx, event)
	}
}

// Submit hands event to a worker without waiting for it to be handled. When every worker is
// busy and the queue is full the event is handled on its own goroutine rather than dropped.
func (p *Pipeline) Submit(event backend.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.logger.Warnw("Dropping event submitted after shutdown", "event_id", event.ID)
		return
	}

	select {
	case p.queue <- event:
		p.opts.Metrics.SetQueueDepth(len(p.queue))
	default:
		p.logger.Warnw("Event queue full, handling event on a new goroutine",
			"event_id", event.ID,
			"queueSize", p.opts.QueueSize)

		p.extra.Add(1)
		go func() {
			defer p.extra.Done()
			p.Handle(p.ctx, event)
		}()
	}
}

// Stop stops accepting events, waits for queued events to be handled and releases the workers.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		started := p.started
		p.mu.Unlock()

		if !started {
			// Nobody will drain the queue; handle what is left here.
			for event := range p.queue {
				p.Handle(p.ctx, event)
			}
		}

		p.workers.Wait()
		p.extra.Wait()
		p.cancel()

		p.logger.Infow("Pipeline stopped")
	})
}

// Handle runs one event through parse, recipient lookup, format and delivery.
// Per-event failures are logged and counted; only a missing template reaches OnFatal.
func (p *Pipeline) Handle(ctx context.Context, event backend.Event) Outcome {
	p.opts.Metrics.EventReceived(event.BackendName)
	p.logger.Infow("event.received",
		"event_id", event.ID,
		"backend", event.BackendName,
		"chat_id", event.ChatID,
		"message_id", event.MessageID)

	a, err := alert.Parse(event.Text, event.ReceivedAt)
	if err != nil {
		p.opts.Metrics.Error(metrics.ErrorParse)
		p.logger.Infow("event.not_parsed", "event_id", event.ID, "error", err.Error(), "text", event.Text)
		return OutcomeNotParsed
	}

	p.logger.Infow("event.parsed",
		"event_id", event.ID,
		"threat", a.Threat().Name(),
		"status", a.Status().Name(),
		"location", a.Location(),
		"hashtag", a.Hashtag())

	var recipients []string
	if p.opts.Directory != nil {
		recipients = p.opts.Directory.Recipients(a.Hashtag())

		if len(recipients) == 0 && p.opts.IgnoreWithoutMentions {
			p.logger.Infow("alert.skipped", "event_id", event.ID, "hashtag", a.Hashtag(), "reason", "no members to mention")
			return p.finish(ctx, event, a, recipients, "", OutcomeSkipped, nil)
		}
	}

	message, err := p.formatter.Format(ctx, a, recipients, p.opts.Locale)
	if err != nil {
		return p.formatFailed(ctx, event, a, recipients, err)
	}

	p.logger.Debugw("alert.formatted", "event_id", event.ID, "message", message)

	msg := poster.Message{Text: message}
	if p.opts.Attachments {
		msg.Attachment = formatter.Attachment(a, message)
	}

	started := p.opts.Clock.Now()
	err = p.poster.Post(ctx, msg)
	p.opts.Metrics.ObserveDelivery(p.opts.Clock.Since(started))
	if err != nil {
		p.opts.Metrics.Error(metrics.ErrorDelivery)
		p.logger.Errorw("alert.not_sent", "event_id", event.ID, "error", err.Error())
		return p.finish(ctx, event, a, recipients, message, OutcomeNotSent, err)
	}

	p.logger.Infow("alert.sent", "event_id", event.ID, "recipients", len(recipients))
	return p.finish(ctx, event, a, recipients, message, OutcomeSent, nil)
}

func (p *Pipeline) formatFailed(ctx context.Context, event backend.Event, a alert.Alert, recipients []string, err error) Outcome {
	var translationErr *translator.TranslationError
	switch {
	case errors.Is(err, i18n.ErrMissingTemplate):
		p.opts.Metrics.Error(metrics.ErrorTemplate)
		p.logger.Errorw("Missing template, shutting down", "event_id", event.ID, "error", err.Error())
		p.fatal(err)
	case errors.As(err, &translationErr):
		p.opts.Metrics.Error(metrics.ErrorTranslation)
		p.logger.Errorw("alert.not_sent", "event_id", event.ID, "error", err.Error())
	default:
		p.logger.Errorw("alert.not_sent", "event_id", event.ID, "error", err.Error())
	}

	return p.finish(ctx, event, a, recipients, "", OutcomeNotSent, err)
}

// finish counts the outcome and records it in the history.
func (p *Pipeline) finish(ctx context.Context, event backend.Event, a alert.Alert, recipients []string, message string, outcome Outcome, cause error) Outcome {
	p.opts.Metrics.AlertHandled(string(outcome), a.Threat().Name(), a.Status().Name())

	if p.opts.History == nil {
		return outcome
	}

	entry := history.Entry{
		EventID:    event.ID,
		ReceivedAt: event.ReceivedAt,
		Hashtag:    a.Hashtag(),
		Threat:     a.Threat().Name(),
		Status:     a.Status().Name(),
		Location:   a.Location(),
		Recipients: len(recipients),
		Message:    message,
		Outcome:    history.Outcome(outcome),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	// The history outlives a canceled event context.
	if _, err := p.opts.History.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.opts.Metrics.Error(metrics.ErrorHistory)
		p.logger.Warnw("Failed to record delivery history", "event_id", event.ID, "error", err.Error())
	}

	return outcome
}

func (p *Pipeline) fatal(err error) {
	p.fatalOnce.Do(func() {
		if p.opts.OnFatal != nil {
			p.opts.OnFatal(err)
		}
	})
}

type nopMetrics struct{}

func (nopMetrics) EventReceived(string)                 {}
func (nopMetrics) AlertHandled(string, string, string) {}
func (nopMetrics) Error(string)                         {}
func (nopMetrics) ObserveDelivery(time.Duration)        {}
func (nopMetrics) SetQueueDepth(int)                    {}

package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

// UpdateFetcher is an interface for fetching updates from the Bot API
type UpdateFetcher interface {
	FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poller manages the scheduled polling job for a Telegram backend
type Poller struct {
	logger          *zap.SugaredLogger
	clock           clock.Clock
	backendID       string
	backendName     string
	interval        time.Duration
	longPoll        time.Duration
	client          UpdateFetcher
	processor       *AlertProcessor
	stateStore      *StateStore
	scheduler       JobScheduler
	disableCallback backend.DisableCallback

	mu     sync.Mutex
	job    Job
	ctx    context.Context
	cancel context.CancelFunc // Cancels catch-up and in-flight polls
}

// NewPoller creates a new poller instance
func NewPoller(
	logger *zap.SugaredLogger,
	c clock.Clock,
	backendID string,
	backendName string,
	interval time.Duration,
	longPoll time.Duration,
	client UpdateFetcher,
	processor *AlertProcessor,
	stateStore *StateStore,
	disableCallback backend.DisableCallback,
) *Poller {
	return &Poller{
		logger:          logger,
		clock:           c,
		backendID:       backendID,
		backendName:     backendName,
		interval:        interval,
		longPoll:        longPoll,
		client:          client,
		processor:       processor,
		stateStore:      stateStore,
		scheduler:       NewClockJobScheduler(c),
		disableCallback: disableCallback,
	}
}

// SetScheduler sets a custom job scheduler (useful for testing)
func (p *Poller) SetScheduler(scheduler JobScheduler) {
	p.scheduler = scheduler
}

// Start begins polling. If no cursor exists, a catch-up routine first confirms every pending
// update without relaying it, so a fresh install never re-announces old notifications.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return fmt.Errorf("poller already running")
	}

	_, ok, err := p.stateStore.GetCursor()
	if err != nil {
		return fmt.Errorf("failed to check cursor state: %w", err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	if !ok {
		p.logger.Infow("No cursor found - starting catch-up routine to skip pending updates",
			"backendId", p.backendID,
			"backendName", p.backendName)

		go p.catchUp(p.ctx)
		return nil
	}

	return p.startRegularJobLocked(p.ctx)
}

// startRegularJobLocked starts the regular polling job for the run identified by ctx.
// p.mu must be held. It is a no-op once that run has been stopped.
func (p *Poller) startRegularJobLocked(ctx context.Context) error {
	if ctx != p.ctx || ctx.Err() != nil {
		return nil
	}

	jobID := fmt.Sprintf("telegram_poll_%s", p.backendID)

	job, err := p.scheduler.Schedule(jobID, p.nextWaitInterval, p.run)
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	p.job = job
	p.logger.Infow("Poller started", "backendId", p.backendID, "backendName", p.backendName, "interval", p.interval)
	return nil
}

// catchUp confirms pending updates until none are left, then starts the regular job.
// This runs in a background goroutine and does NOT relay any update. A failed request is
// retried after the poll interval until the backend reaches MaxConsecutiveFailures.
func (p *Poller) catchUp(ctx context.Context) {
	var offset int64
	totalSkipped := 0

	for {
		if err := p.stateStore.SaveLastPoll(p.clock.Now()); err != nil {
			p.logger.Errorw("Failed to save last poll time during catch-up", "backendId", p.backendID, "error", err.Error())
		}

		updates, err := p.client.FetchUpdates(ctx, offset, 0)
		if ctx.Err() != nil {
			p.logger.Infow("Catch-up routine canceled", "backendId", p.backendID, "backendName", p.backendName)
			return
		}
		if err != nil {
			if disabled := p.handlePollError(fmt.Errorf("catch-up failed: %w", err)); disabled {
				return
			}
			if !p.sleep(ctx, p.interval) {
				return
			}
			continue
		}

		if len(updates) == 0 {
			break
		}

		totalSkipped += len(updates)
		offset = updates[len(updates)-1].UpdateID + 1

		p.logger.Debugw("Catch-up progress",
			"backendId", p.backendID,
			"updatesInBatch", len(updates),
			"totalSkipped", totalSkipped)
	}

	// Saving the cursor, even a zero one, marks the catch-up as done.
	if err := p.stateStore.SaveCursor(offset); err != nil {
		p.handlePollError(fmt.Errorf("failed to save cursor after catch-up: %w", err))
		return
	}
	p.recordSuccess()

	p.logger.Infow("Catch-up complete",
		"backendId", p.backendID,
		"backendName", p.backendName,
		"totalSkipped", totalSkipped)

	p.mu.Lock()
	err := p.startRegularJobLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		p.handlePollError(fmt.Errorf("failed to start job after catch-up: %w", err))
	}
}

// Stop gracefully stops the polling job, cancelling catch-up and any in-flight poll
func (p *Poller) Stop() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	job := p.job
	p.job = nil
	p.mu.Unlock()

	if job == nil {
		return nil
	}

	if err := job.Close(); err != nil {
		p.logger.Errorw("Failed to close polling job", "backendId", p.backendID, "error", err.Error())
		return fmt.Errorf("failed to close polling job: %w", err)
	}

	p.logger.Infow("Poller stopped", "backendId", p.backendID, "backendName", p.backendName)
	return nil
}

// nextWaitInterval is called by the job scheduler to determine how long to wait until the next poll.
func (p *Poller) nextWaitInterval(now time.Time, metadata JobMetadata) time.Duration {
	// For the first run, execute immediately
	if metadata.LastFinished.IsZero() {
		return 0
	}

	sinceLastFinished := now.Sub(metadata.LastFinished)
	if sinceLastFinished < p.interval {
		return p.interval - sinceLastFinished
	}

	return 0
}

// run is called by the job scheduler to execute a poll cycle
func (p *Poller) run() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := p.stateStore.SaveLastPoll(p.clock.Now()); err != nil {
		p.logger.Errorw("Failed to save last poll time", "backendId", p.backendID, "error", err.Error())
	}

	offset, _, err := p.stateStore.GetCursor()
	if err != nil {
		p.handlePollError(fmt.Errorf("failed to load cursor: %w", err))
		return
	}

	updates, err := p.client.FetchUpdates(ctx, offset, p.longPoll)
	if ctx.Err() != nil {
		// Stopped while waiting on the long poll.
		return
	}
	if err != nil {
		p.handlePollError(fmt.Errorf("failed to fetch updates: %w", err))
		return
	}

	newCount := p.processor.ProcessUpdates(updates)

	if len(updates) > 0 {
		offset = updates[len(updates)-1].UpdateID + 1
		if err := p.stateStore.SaveCursor(offset); err != nil {
			p.handlePollError(fmt.Errorf("failed to save cursor: %w", err))
			return
		}
	}

	p.recordSuccess()

	p.logger.Debugw("Poll cycle completed",
		"backendId", p.backendID,
		"backendName", p.backendName,
		"totalUpdates", len(updates),
		"newEvents", newCount,
		"cursor", offset)
}

// recordSuccess updates the success state after a completed poll.
func (p *Poller) recordSuccess() {
	if err := p.stateStore.SaveLastSuccess(p.clock.Now()); err != nil {
		p.logger.Errorw("Failed to save last success time", "backendId", p.backendID, "error", err.Error())
	}

	if err := p.stateStore.ResetFailures(); err != nil {
		p.logger.Errorw("Failed to reset failure counter", "backendId", p.backendID, "error", err.Error())
	}

	if err := p.stateStore.SaveLastError(""); err != nil {
		p.logger.Errorw("Failed to clear last error", "backendId", p.backendID, "error", err.Error())
	}
}

// handlePollError increments failure count and disables backend if threshold exceeded.
// It reports whether the backend is being disabled.
func (p *Poller) handlePollError(err error) bool {
	errMsg := err.Error()

	p.logger.Errorw("Poll cycle failed",
		"backendId", p.backendID,
		"backendName", p.backendName,
		"error", errMsg)

	if saveErr := p.stateStore.SaveLastError(errMsg); saveErr != nil {
		p.logger.Errorw("Failed to save last error", "backendId", p.backendID, "error", saveErr.Error())
	}

	failureCount, incrementErr := p.stateStore.IncrementFailures()
	if incrementErr != nil {
		p.logger.Errorw("Failed to increment failure counter", "backendId", p.backendID, "error", incrementErr.Error())
		return false
	}

	if failureCount < backend.MaxConsecutiveFailures {
		return false
	}

	p.logger.Errorw("Backend reached max consecutive failures",
		"backendId", p.backendID,
		"backendName", p.backendName,
		"consecutiveFailures", failureCount,
		"lastError", errMsg)

	// The callback stops this poller, which waits for the running job; never call it inline.
	go func() {
		if p.disableCallback != nil {
			disableErr := p.disableCallback(p.backendID)
			if disableErr == nil {
				return
			}
			p.logger.Errorw("Failed to disable backend", "backendId", p.backendID, "error", disableErr.Error())
		} else {
			p.logger.Warnw("No disable callback provided, stopping poller locally", "backendId", p.backendID)
		}

		if stopErr := p.Stop(); stopErr != nil {
			p.logger.Errorw("Failed to stop poller", "backendId", p.backendID, "error", stopErr.Error())
		}
	}()

	return true
}

// sleep waits for d on the poller clock. It returns false when ctx ends first.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := p.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

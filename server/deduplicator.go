package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DeduplicationCacheTTL is how long to keep event IDs in the deduplication cache
	DeduplicationCacheTTL = 24 * time.Hour

	// DeduplicationCleanupInterval is how often to clean up expired entries
	DeduplicationCleanupInterval = 10 * time.Minute
)

// Deduplicator tracks seen event IDs to prevent duplicate relaying across all backends
type Deduplicator struct {
	logger      *zap.SugaredLogger
	clock       clock.Clock
	seenEvents  map[string]time.Time
	mu          sync.Mutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewDeduplicator creates a new deduplicator and starts the cleanup loop
func NewDeduplicator(logger *zap.SugaredLogger, c clock.Clock) *Deduplicator {
	d := &Deduplicator{
		logger:      logger,
		clock:       c,
		seenEvents:  make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go d.cleanupLoop()

	return d
}

// RecordEvent atomically checks if an event is new and marks it as seen if so.
// Returns true if this is a new event, false if it's a duplicate.
func (d *Deduplicator) RecordEvent(backendType, eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("%s:%s", backendType, eventID)

	if seenAt, exists := d.seenEvents[key]; exists && d.clock.Since(seenAt) <= DeduplicationCacheTTL {
		return false
	}

	d.seenEvents[key] = d.clock.Now()
	return true
}

// Len returns the number of tracked events.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seenEvents)
}

// cleanupLoop periodically removes expired entries from the cache
func (d *Deduplicator) cleanupLoop() {
	ticker := d.clock.Ticker(DeduplicationCleanupInterval)
	defer ticker.Stop()
	defer close(d.cleanupDone)

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stopCleanup:
			return
		}
	}
}

// cleanup removes entries older than DeduplicationCacheTTL
func (d *Deduplicator) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	expired := 0

	for key, seenAt := range d.seenEvents {
		if now.Sub(seenAt) > DeduplicationCacheTTL {
			delete(d.seenEvents, key)
			expired++
		}
	}

	if expired > 0 {
		d.logger.Debugw("Cleaned up expired deduplication cache entries",
			"expired", expired,
			"remaining", len(d.seenEvents))
	}
}

// Stop stops the cleanup goroutine and waits for it to finish
func (d *Deduplicator) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCleanup)
		<-d.cleanupDone
	})
}

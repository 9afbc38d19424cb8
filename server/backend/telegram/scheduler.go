package telegram

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// JobMetadata describes the previous runs of a scheduled job.
type JobMetadata struct {
	LastFinished time.Time
}

// NextWaitInterval returns how long to wait before the next run of a job.
type NextWaitInterval func(now time.Time, metadata JobMetadata) time.Duration

// Job represents a scheduled job that can be closed
type Job interface {
	Close() error
}

// JobScheduler is an interface for scheduling recurring jobs
type JobScheduler interface {
	Schedule(jobID string, nextWaitInterval NextWaitInterval, callback func()) (Job, error)
}

// ClockJobScheduler runs each job on its own goroutine, timed by a clock.
// Runs of one job never overlap.
type ClockJobScheduler struct {
	clock clock.Clock

	mu   sync.Mutex
	jobs map[string]*clockJob
}

// NewClockJobScheduler creates a scheduler driven by c.
func NewClockJobScheduler(c clock.Clock) *ClockJobScheduler {
	return &ClockJobScheduler{
		clock: c,
		jobs:  make(map[string]*clockJob),
	}
}

// Schedule starts a recurring job. A job id can only be scheduled once until its job is closed.
func (s *ClockJobScheduler) Schedule(jobID string, nextWaitInterval NextWaitInterval, callback func()) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; exists {
		return nil, fmt.Errorf("job %s is already scheduled", jobID)
	}

	job := &clockJob{
		id:        jobID,
		scheduler: s,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.jobs[jobID] = job

	go job.loop(s.clock, nextWaitInterval, callback)

	return job, nil
}

func (s *ClockJobScheduler) remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

type clockJob struct {
	id        string
	scheduler *ClockJobScheduler
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (j *clockJob) loop(c clock.Clock, nextWaitInterval NextWaitInterval, callback func()) {
	defer close(j.done)

	var metadata JobMetadata
	for {
		if wait := nextWaitInterval(c.Now(), metadata); wait > 0 {
			timer := c.Timer(wait)
			select {
			case <-j.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-j.stop:
				return
			default:
			}
		}

		callback()
		metadata.LastFinished = c.Now()
	}
}

// Close stops the job and waits for a running callback to return.
// It must not be called from within the job's own callback.
func (j *clockJob) Close() error {
	j.closeOnce.Do(func() {
		close(j.stop)
		<-j.done
		j.scheduler.remove(j.id)
	})
	return nil
}

// Package relayer drives the cross-chain relay path: it waits for Circle attestations of burn
// transactions and submits the attested messages to the settlement engine, retrying transient
// failures with backoff.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-settler/pkg/irisclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

const (
	// maxQueueSize limits the retry queue
	maxQueueSize = 1000
	// maxProcessPerTick bounds how many retries are released at once
	maxProcessPerTick = 10
	// pendingBuffer is the capacity of the worker queue
	pendingBuffer = 100
	// DefaultRetention is how long finished job statuses stay queryable
	DefaultRetention = 24 * time.Hour
)

var (
	// ErrQueueFull is returned by Submit when the worker queue cannot take more jobs
	ErrQueueFull = errors.New("relay queue is full")
	// ErrNotRunning is returned by Submit before Start or after the service stopped
	ErrNotRunning = errors.New("relayer is not running")
	// ErrDuplicateJob is returned by Submit when a job with the same id was already submitted
	ErrDuplicateJob = errors.New("job already submitted")
)

// AttestationSource returns the attested message for a burn transaction
type AttestationSource interface {
	FetchAttestation(ctx context.Context, sourceDomain uint32, txHash common.Hash) (*irisclient.Attested, error)
}

// Settler settles an attested message
type Settler interface {
	Relay(ctx context.Context, req settlement.RelayRequest) (*settlement.Outcome, error)
}

// Config holds relayer settings
type Config struct {
	// Caller is the account relay requests are submitted as; it must hold the relayer role
	Caller     common.Address
	Workers    int
	MaxRetries int
	// RetryTick is the idle interval of the retry handler
	RetryTick time.Duration
	// Retention is how long a finished job's status is kept after its last update
	Retention time.Duration
}

// Service runs relay workers and the retry handler
type Service struct {
	cfg          Config
	attestations AttestationSource
	settler      Settler
	logger       logger.Logger

	pendingJobs chan Job
	retryJobs   chan RetryJob

	mu       sync.RWMutex
	statuses map[string]*JobStatus
	running  bool
	wg       sync.WaitGroup

	now     func() time.Time
	backoff func(retryCount int) time.Duration
}

// NewService creates a relayer service
func NewService(cfg Config, attestations AttestationSource, settler Settler, log logger.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryTick <= 0 {
		cfg.RetryTick = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Service{
		cfg:          cfg,
		attestations: attestations,
		settler:      settler,
		logger:       log,
		pendingJobs:  make(chan Job, pendingBuffer),
		retryJobs:    make(chan RetryJob, pendingBuffer),
		statuses:     make(map[string]*JobStatus),
		now:          time.Now,
		backoff:      CalculateBackoff,
	}
}

// Start launches the workers and the retry handler. They stop when ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(ctx, id)
		}(i + 1)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.retryHandler(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
}

// Wait blocks until all goroutines started by Start have returned
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit queues a job and returns its id
func (s *Service) Submit(job Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return "", ErrNotRunning
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.statuses[job.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	select {
	case s.pendingJobs <- job:
	default:
		return "", ErrQueueFull
	}

	s.statuses[job.ID] = &JobStatus{
		ID:           job.ID,
		SourceDomain: job.SourceDomain,
		TxHash:       job.TxHash,
		State:        StatePending,
		UpdatedAt:    s.now(),
	}
	metrics.PendingRelayJobs.Set(float64(len(s.pendingJobs)))

	s.logger.InfoWithDomain(job.SourceDomain, "Queued relay job %s for burn %s", job.ID, job.TxHash.Hex())
	return job.ID, nil
}

// Status returns a snapshot of a job's progress
func (s *Service) Status(id string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[id]
	if !ok {
		return JobStatus{}, false
	}
	return *status, true
}

// worker processes jobs from the pending queue
func (s *Service) worker(ctx context.Context, id int) {
	s.logger.Debug("Starting relay worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Relay worker %d shutting down", id)
			return
		case job := <-s.pendingJobs:
			metrics.PendingRelayJobs.Set(float64(len(s.pendingJobs)))
			s.process(ctx, job)
		}
	}
}

// process makes one attempt at a job and decides what happens next
func (s *Service) process(ctx context.Context, job Job) {
	attempts := s.recordAttempt(job.ID)
	domainLabel := strconv.FormatUint(uint64(job.SourceDomain), 10)

	outcome, err := s.attempt(ctx, job)
	if err == nil {
		state := StateFulfilled
		if outcome.Status == settlement.StatusFailed {
			state = StateHeld
			s.logger.ErrorWithDomain(job.SourceDomain, "Relay job %s held in custody: %s", job.ID, outcome.Reason)
		} else {
			s.logger.InfoWithDomain(job.SourceDomain, "Relay job %s fulfilled", job.ID)
		}
		s.update(job.ID, func(st *JobStatus) {
			st.State = state
			st.Outcome = outcome
			st.Error = ""
			st.ErrorType = ""
			st.NextAttempt = nil
		})
		return
	}

	shouldRetry, errorType := ClassifyError(err)
	metrics.RelayJobErrors.WithLabelValues(domainLabel, errorType).Inc()

	if errorType == errorAlreadyProcessed {
		s.logger.InfoWithDomain(job.SourceDomain, "Relay job %s was already processed: %v", job.ID, err)
		s.update(job.ID, func(st *JobStatus) {
			st.State = StateFailed
			st.ErrorType = errorType
			st.Error = err.Error()
			st.NextAttempt = nil
		})
		return
	}

	if !shouldRetry {
		s.logger.ErrorWithDomain(job.SourceDomain, "Not retrying relay job %s due to permanent error type %s: %v", job.ID, errorType, err)
		metrics.PermanentErrors.WithLabelValues(domainLabel, errorType).Inc()
		s.fail(job.ID, errorType, err)
		return
	}

	retryCount := attempts - 1
	if retryCount >= s.cfg.MaxRetries {
		s.logger.ErrorWithDomain(job.SourceDomain, "Max retries reached for relay job %s, giving up (error: %s)", job.ID, errorType)
		metrics.MaxRetriesReached.WithLabelValues(domainLabel, errorType).Inc()
		s.fail(job.ID, errorType, err)
		return
	}

	backoff := s.backoff(retryCount)
	next := s.now().Add(backoff)
	s.update(job.ID, func(st *JobStatus) {
		st.State = StateRetrying
		st.ErrorType = errorType
		st.Error = err.Error()
		st.NextAttempt = &next
	})

	s.logger.DebugWithDomain(job.SourceDomain, "Scheduling retry for relay job %s in %v (error: %s)", job.ID, backoff, errorType)
	select {
	case s.retryJobs <- RetryJob{Job: job, RetryCount: retryCount + 1, NextAttempt: next, ErrorType: errorType}:
	case <-ctx.Done():
	}
}

// attempt fetches the attestation and submits the message for settlement
func (s *Service) attempt(ctx context.Context, job Job) (*settlement.Outcome, error) {
	attested, err := s.attestations.FetchAttestation(ctx, job.SourceDomain, job.TxHash)
	if err != nil {
		return nil, err
	}

	return s.settler.Relay(ctx, settlement.RelayRequest{
		Caller:      s.cfg.Caller,
		Message:     attested.Message,
		Attestation: attested.Attestation,
		Intent:      job.Intent,
		Signature:   job.Signature,
	})
}

// retryHandler manages the retry queue
func (s *Service) retryHandler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RetryTick)
	defer ticker.Stop()

	var retryQueue []RetryJob

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.retryJobs:
			if len(retryQueue) >= maxQueueSize {
				s.logger.Error("Retry queue at capacity (%d jobs), dropping relay job %s", maxQueueSize, job.Job.ID)
				metrics.DroppedRetries.WithLabelValues(strconv.FormatUint(uint64(job.Job.SourceDomain), 10)).Inc()
				s.fail(job.Job.ID, job.ErrorType, errors.New("dropped: retry queue full"))
				continue
			}
			retryQueue = append(retryQueue, job)
			sort.Slice(retryQueue, func(i, j int) bool {
				return retryQueue[i].NextAttempt.Before(retryQueue[j].NextAttempt)
			})
			ticker.Reset(s.nextTick(retryQueue, 0))
		case <-ticker.C:
			var processed int
			retryQueue, processed = s.releaseDue(retryQueue)
			s.pruneStatuses()
			ticker.Reset(s.nextTick(retryQueue, processed))
		}
	}
}

// releaseDue moves due jobs back to the worker queue and returns the remaining queue
func (s *Service) releaseDue(retryQueue []RetryJob) ([]RetryJob, int) {
	now := s.now()

	metrics.RetryQueueSize.Set(float64(len(retryQueue)))
	if len(retryQueue) > 0 {
		nextRetryIn := retryQueue[0].NextAttempt.Sub(now).Seconds()
		if nextRetryIn < 0 {
			nextRetryIn = 0
		}
		metrics.NextRetryIn.Set(nextRetryIn)
	}

	var remaining []RetryJob
	processed := 0
	for _, job := range retryQueue {
		if job.NextAttempt.After(now) || processed >= maxProcessPerTick {
			remaining = append(remaining, job)
			continue
		}

		s.logger.DebugWithDomain(job.Job.SourceDomain, "Retrying relay job %s (attempt #%d, error type: %s)",
			job.Job.ID, job.RetryCount+1, job.ErrorType)
		// never block here, workers may be waiting to hand jobs to this handler
		select {
		case s.pendingJobs <- job.Job:
			processed++
			metrics.RetriesExecuted.WithLabelValues(strconv.FormatUint(uint64(job.Job.SourceDomain), 10), job.ErrorType).Inc()
		default:
			remaining = append(remaining, job)
		}
	}
	return remaining, processed
}

// nextTick returns how long the retry handler sleeps before looking at the queue again
func (s *Service) nextTick(retryQueue []RetryJob, processed int) time.Duration {
	if len(retryQueue) == 0 {
		return s.cfg.RetryTick
	}
	if processed >= maxProcessPerTick {
		// more jobs are ready, check again sooner
		return time.Millisecond
	}
	wait := retryQueue[0].NextAttempt.Sub(s.now())
	if wait <= 0 {
		return time.Millisecond
	}
	if wait > s.cfg.RetryTick {
		return s.cfg.RetryTick
	}
	return wait
}

// pruneStatuses forgets finished jobs whose last update is older than the retention window
func (s *Service) pruneStatuses() int {
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, st := range s.statuses {
		if st.Terminal() && st.UpdatedAt.Before(cutoff) {
			delete(s.statuses, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Debug("Pruned %d finished relay jobs", pruned)
	}
	return pruned
}

func (s *Service) recordAttempt(id string) int {
	var attempts int
	s.update(id, func(st *JobStatus) {
		st.Attempts++
		attempts = st.Attempts
	})
	return attempts
}

func (s *Service) fail(id, errorType string, err error) {
	s.update(id, func(st *JobStatus) {
		st.State = StateFailed
		st.ErrorType = errorType
		st.Error = err.Error()
		st.NextAttempt = nil
	})
}

func (s *Service) update(id string, fn func(st *JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		return
	}
	fn(st)
	st.UpdatedAt = s.now()
}

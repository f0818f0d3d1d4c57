package relayer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/irisclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayerAccount = common.HexToAddress("0x4e1a")

// fakeIris fails the first pending polls, then returns an attested message
type fakeIris struct {
	mu      sync.Mutex
	pending int
	err     error
	calls   int
}

func (f *fakeIris) FetchAttestation(_ context.Context, _ uint32, txHash common.Hash) (*irisclient.Attested, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.pending > 0 {
		f.pending--
		return nil, irisclient.ErrAttestationPending
	}
	return &irisclient.Attested{Message: txHash.Bytes(), Attestation: []byte{0xaa}}, nil
}

type fakeSettler struct {
	mu       sync.Mutex
	requests []settlement.RelayRequest
	status   settlement.Status
	err      error
}

func (f *fakeSettler) Relay(_ context.Context, req settlement.RelayRequest) (*settlement.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = settlement.StatusFulfilled
	}
	return &settlement.Outcome{Status: status, Path: ledger.PathRelay}, nil
}

func newTestService(t *testing.T, iris *fakeIris, settler *fakeSettler, maxRetries int) *Service {
	t.Helper()
	s := NewService(Config{
		Caller:     relayerAccount,
		Workers:    2,
		MaxRetries: maxRetries,
		RetryTick:  5 * time.Millisecond,
	}, iris, settler, nil)
	s.backoff = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s
}

func testJob() Job {
	return Job{
		SourceDomain: 3,
		TxHash:       common.HexToHash("0xb042"),
		Intent: intent.PaymentIntent{
			Amount: big.NewInt(100),
			Salt:   big.NewInt(1),
		},
		Signature: []byte{0x01},
	}
}

func waitForTerminal(t *testing.T, s *Service, id string) JobStatus {
	t.Helper()
	var status JobStatus
	require.Eventually(t, func() bool {
		var ok bool
		status, ok = s.Status(id)
		return ok && status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return status
}

func TestService_Fulfilled(t *testing.T) {
	settler := &fakeSettler{}
	s := newTestService(t, &fakeIris{}, settler, 3)

	id, err := s.Submit(testJob())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	status := waitForTerminal(t, s, id)
	assert.Equal(t, StateFulfilled, status.State)
	assert.Equal(t, 1, status.Attempts)
	require.NotNil(t, status.Outcome)

	settler.mu.Lock()
	defer settler.mu.Unlock()
	require.Len(t, settler.requests, 1)
	req := settler.requests[0]
	assert.Equal(t, relayerAccount, req.Caller)
	assert.Equal(t, common.HexToHash("0xb042").Bytes(), req.Message)
	assert.Equal(t, []byte{0xaa}, req.Attestation)
	assert.Equal(t, "100", req.Intent.Amount.String())
}

func TestService_RetriesUntilAttested(t *testing.T) {
	iris := &fakeIris{pending: 2}
	s := newTestService(t, iris, &fakeSettler{}, 5)

	id, err := s.Submit(testJob())
	require.NoError(t, err)

	status := waitForTerminal(t, s, id)
	assert.Equal(t, StateFulfilled, status.State)
	assert.Equal(t, 3, status.Attempts)
	assert.Empty(t, status.ErrorType)
}

func TestService_MaxRetries(t *testing.T) {
	iris := &fakeIris{err: irisclient.ErrAttestationPending}
	s := newTestService(t, iris, &fakeSettler{}, 2)

	id, err := s.Submit(testJob())
	require.NoError(t, err)

	status := waitForTerminal(t, s, id)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 3, status.Attempts, "first attempt plus two retries")
	assert.Equal(t, errorAttestationPending, status.ErrorType)
}

func TestService_PermanentError(t *testing.T) {
	settler := &fakeSettler{err: errors.Join(intent.ErrInvalidSignature)}
	s := newTestService(t, &fakeIris{}, settler, 5)

	id, err := s.Submit(testJob())
	require.NoError(t, err)

	status := waitForTerminal(t, s, id)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, string(intent.ReasonInvalidSignature), status.ErrorType)
}

func TestService_Held(t *testing.T) {
	settler := &fakeSettler{status: settlement.StatusFailed}
	s := newTestService(t, &fakeIris{}, settler, 5)

	id, err := s.Submit(testJob())
	require.NoError(t, err)

	status := waitForTerminal(t, s, id)
	assert.Equal(t, StateHeld, status.State)
	assert.Equal(t, 1, status.Attempts, "a held relay is never retried")
}

func TestService_SubmitRules(t *testing.T) {
	s := NewService(Config{}, &fakeIris{}, &fakeSettler{}, nil)
	_, err := s.Submit(testJob())
	require.ErrorIs(t, err, ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Wait()
	}()
	s.Start(ctx)

	job := testJob()
	job.ID = "fixed-id"
	id, err := s.Submit(job)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	_, err = s.Submit(job)
	require.ErrorIs(t, err, ErrDuplicateJob)

	_, ok := s.Status("unknown")
	assert.False(t, ok)
}

func TestService_PruneStatuses(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := NewService(Config{Retention: time.Hour}, &fakeIris{}, &fakeSettler{}, nil)
	s.now = func() time.Time { return now }

	s.statuses = map[string]*JobStatus{
		"old-fulfilled": {ID: "old-fulfilled", State: StateFulfilled, UpdatedAt: now.Add(-2 * time.Hour)},
		"old-held":      {ID: "old-held", State: StateHeld, UpdatedAt: now.Add(-2 * time.Hour)},
		"old-failed":    {ID: "old-failed", State: StateFailed, UpdatedAt: now.Add(-61 * time.Minute)},
		"new-fulfilled": {ID: "new-fulfilled", State: StateFulfilled, UpdatedAt: now.Add(-time.Minute)},
		"old-retrying":  {ID: "old-retrying", State: StateRetrying, UpdatedAt: now.Add(-3 * time.Hour)},
		"old-pending":   {ID: "old-pending", State: StatePending, UpdatedAt: now.Add(-3 * time.Hour)},
	}

	assert.Equal(t, 3, s.pruneStatuses())
	for _, id := range []string{"old-fulfilled", "old-held", "old-failed"} {
		_, ok := s.Status(id)
		assert.False(t, ok, id)
	}
	for _, id := range []string{"new-fulfilled", "old-retrying", "old-pending"} {
		_, ok := s.Status(id)
		assert.True(t, ok, "unfinished or recent job %s stays", id)
	}

	assert.Equal(t, 0, s.pruneStatuses())
}

func TestService_DefaultRetention(t *testing.T) {
	s := NewService(Config{}, &fakeIris{}, &fakeSettler{}, nil)
	assert.Equal(t, DefaultRetention, s.cfg.Retention)
}

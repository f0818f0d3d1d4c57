package relayer

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

// State is the lifecycle state of a relay job
type State string

const (
	StatePending   State = "pending"
	StateRetrying  State = "retrying"
	StateFulfilled State = "fulfilled"
	// StateHeld means the message was received but settlement failed; proceeds stay in custody
	StateHeld   State = "held"
	StateFailed State = "failed"
)

// Job is a burn transaction on a source domain whose attested message pays intent
type Job struct {
	ID           string               `json:"id"`
	SourceDomain uint32               `json:"sourceDomain"`
	TxHash       common.Hash          `json:"txHash"`
	Intent       intent.PaymentIntent `json:"intent"`
	Signature    hexutil.Bytes        `json:"signature"`
}

// RetryJob is a job waiting for its next attempt
type RetryJob struct {
	Job         Job
	RetryCount  int
	NextAttempt time.Time
	ErrorType   string
}

// JobStatus is the externally visible progress of a job
type JobStatus struct {
	ID           string              `json:"id"`
	SourceDomain uint32              `json:"sourceDomain"`
	TxHash       common.Hash         `json:"txHash"`
	State        State               `json:"state"`
	Attempts     int                 `json:"attempts"`
	ErrorType    string              `json:"errorType,omitempty"`
	Error        string              `json:"error,omitempty"`
	NextAttempt  *time.Time          `json:"nextAttempt,omitempty"`
	Outcome      *settlement.Outcome `json:"outcome,omitempty"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Terminal reports whether the job will not be attempted again
func (s JobStatus) Terminal() bool {
	return s.State == StateFulfilled || s.State == StateHeld || s.State == StateFailed
}

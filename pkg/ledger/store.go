package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

var (
	// ErrTxDone is returned when a committed or rolled back Tx is used again
	ErrTxDone = errors.New("ledger transaction already finished")
	// ErrConflict is returned by Commit when another writer changed a record the Tx read
	ErrConflict = errors.New("ledger conflict")
)

// Store is the durable consumption ledger
type Store interface {
	// Begin opens a unit of work. Nothing is visible to other callers until Commit.
	Begin(ctx context.Context) (Tx, error)

	SaltRecord(ctx context.Context, salt common.Hash) (SaltRecord, error)
	OrderIDUsed(ctx context.Context, orderID common.Hash) (bool, error)
	RelayMessageUsed(ctx context.Context, messageID common.Hash) (bool, error)
	FailedRelay(ctx context.Context, messageID common.Hash) (FailedRelay, error)
	Events(ctx context.Context, filter EventFilter) ([]Event, error)

	Close() error
}

// Tx is a unit of work against the ledger
type Tx interface {
	// ConsumeSalt applies the nonce and quantity rules to the salt and returns the new record
	ConsumeSalt(ctx context.Context, salt common.Hash, nonce *big.Int, quantityType intent.QuantityType, quantity *big.Int) (SaltRecord, error)
	// ConsumeOrderID marks an order id as used, failing with intent.ErrAlreadyUsed on reuse
	ConsumeOrderID(ctx context.Context, orderID common.Hash) error
	// ConsumeRelayMessage marks a bridge message as relayed, failing with intent.ErrAlreadyRelayed on reuse
	ConsumeRelayMessage(ctx context.Context, messageID common.Hash) error
	// RecordFailedRelay stores proceeds held in custody after a post-mint failure
	RecordFailedRelay(ctx context.Context, failed FailedRelay) error
	// ResolveFailedRelay marks a failed relay as paid out and returns it
	ResolveFailedRelay(ctx context.Context, messageID common.Hash, resolvedAt time.Time) (FailedRelay, error)
	AppendEvent(ctx context.Context, event Event) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FailedRelay is a relay whose settlement failed after the bridge minted into custody
type FailedRelay struct {
	MessageID  common.Hash    `json:"messageId"`
	OrderID    common.Hash    `json:"orderId"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"createdAt"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// WithTx runs fn inside a unit of work, committing when fn returns nil and rolling back otherwise
func WithTx(ctx context.Context, store Store, fn func(tx Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// NewEventID returns a fresh event id
func NewEventID() uuid.UUID {
	return uuid.New()
}

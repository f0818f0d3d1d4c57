package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

// MemoryStore is an in-process Store. State is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	salts         map[common.Hash]SaltRecord
	orderIDs      map[common.Hash]struct{}
	relayMessages map[common.Hash]struct{}
	failedRelays  map[common.Hash]FailedRelay
	events        []Event
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		salts:         make(map[common.Hash]SaltRecord),
		orderIDs:      make(map[common.Hash]struct{}),
		relayMessages: make(map[common.Hash]struct{}),
		failedRelays:  make(map[common.Hash]FailedRelay),
	}
}

// Begin opens a unit of work that stages writes until Commit
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{
		store:         s,
		salts:         make(map[common.Hash]SaltRecord),
		readSalts:     make(map[common.Hash]SaltRecord),
		orderIDs:      make(map[common.Hash]struct{}),
		relayMessages: make(map[common.Hash]struct{}),
		failedRelays:  make(map[common.Hash]FailedRelay),
	}, nil
}

func (s *MemoryStore) SaltRecord(_ context.Context, salt common.Hash) (SaltRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saltLocked(salt), nil
}

func (s *MemoryStore) OrderIDUsed(_ context.Context, orderID common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orderIDs[orderID]
	return ok, nil
}

func (s *MemoryStore) RelayMessageUsed(_ context.Context, messageID common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.relayMessages[messageID]
	return ok, nil
}

func (s *MemoryStore) FailedRelay(_ context.Context, messageID common.Hash) (FailedRelay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failed, ok := s.failedRelays[messageID]
	if !ok {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrNotFound, messageID.Hex())
	}
	return failed, nil
}

func (s *MemoryStore) Events(_ context.Context, filter EventFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return applyLimit(out, filter.Limit), nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) saltLocked(salt common.Hash) SaltRecord {
	rec, ok := s.salts[salt]
	if !ok {
		return NewSaltRecord(salt)
	}
	return SaltRecord{Salt: rec.Salt, Usage: rec.Usage, Nonce: new(big.Int).Set(rec.Nonce)}
}

// memoryTx stages writes and applies them under the store lock on Commit.
// Salt records read during the tx are re-checked on Commit so a concurrent writer
// cannot be silently overwritten.
type memoryTx struct {
	store *MemoryStore
	done  bool

	salts         map[common.Hash]SaltRecord
	readSalts     map[common.Hash]SaltRecord
	orderIDs      map[common.Hash]struct{}
	relayMessages map[common.Hash]struct{}
	failedRelays  map[common.Hash]FailedRelay
	resolved      []common.Hash
	events        []Event
}

func (tx *memoryTx) ConsumeSalt(_ context.Context, salt common.Hash, nonce *big.Int, quantityType intent.QuantityType, quantity *big.Int) (SaltRecord, error) {
	if tx.done {
		return SaltRecord{}, ErrTxDone
	}

	rec, staged := tx.salts[salt]
	if !staged {
		tx.store.mu.RLock()
		rec = tx.store.saltLocked(salt)
		tx.store.mu.RUnlock()
		if _, seen := tx.readSalts[salt]; !seen {
			tx.readSalts[salt] = rec
		}
	}

	next, _, err := Apply(rec, nonce, quantityType, quantity)
	if err != nil {
		return SaltRecord{}, err
	}
	tx.salts[salt] = next
	return next, nil
}

func (tx *memoryTx) ConsumeOrderID(_ context.Context, orderID common.Hash) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.orderIDs[orderID]; ok {
		return fmt.Errorf("%w: %s", intent.ErrAlreadyUsed, orderID.Hex())
	}

	tx.store.mu.RLock()
	_, used := tx.store.orderIDs[orderID]
	tx.store.mu.RUnlock()
	if used {
		return fmt.Errorf("%w: %s", intent.ErrAlreadyUsed, orderID.Hex())
	}

	tx.orderIDs[orderID] = struct{}{}
	return nil
}

func (tx *memoryTx) ConsumeRelayMessage(_ context.Context, messageID common.Hash) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.relayMessages[messageID]; ok {
		return fmt.Errorf("%w: %s", intent.ErrAlreadyRelayed, messageID.Hex())
	}

	tx.store.mu.RLock()
	_, used := tx.store.relayMessages[messageID]
	tx.store.mu.RUnlock()
	if used {
		return fmt.Errorf("%w: %s", intent.ErrAlreadyRelayed, messageID.Hex())
	}

	tx.relayMessages[messageID] = struct{}{}
	return nil
}

func (tx *memoryTx) RecordFailedRelay(_ context.Context, failed FailedRelay) error {
	if tx.done {
		return ErrTxDone
	}
	tx.store.mu.RLock()
	_, exists := tx.store.failedRelays[failed.MessageID]
	tx.store.mu.RUnlock()
	if _, staged := tx.failedRelays[failed.MessageID]; exists || staged {
		return fmt.Errorf("%w: failed relay %s already recorded", intent.ErrAlreadyRelayed, failed.MessageID.Hex())
	}

	failed.Amount = new(big.Int).Set(failed.Amount)
	tx.failedRelays[failed.MessageID] = failed
	return nil
}

func (tx *memoryTx) ResolveFailedRelay(_ context.Context, messageID common.Hash, resolvedAt time.Time) (FailedRelay, error) {
	if tx.done {
		return FailedRelay{}, ErrTxDone
	}

	failed, staged := tx.failedRelays[messageID]
	if !staged {
		tx.store.mu.RLock()
		var ok bool
		failed, ok = tx.store.failedRelays[messageID]
		tx.store.mu.RUnlock()
		if !ok {
			return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrNotFound, messageID.Hex())
		}
	}
	if failed.Resolved {
		return FailedRelay{}, fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, messageID.Hex())
	}

	failed.Resolved = true
	failed.ResolvedAt = &resolvedAt
	tx.failedRelays[messageID] = failed
	tx.resolved = append(tx.resolved, messageID)
	return failed, nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, event Event) error {
	if tx.done {
		return ErrTxDone
	}
	tx.events = append(tx.events, event)
	return nil
}

func (tx *memoryTx) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before applying anything
	for salt, read := range tx.readSalts {
		current := s.saltLocked(salt)
		if current.Usage != read.Usage || current.Nonce.Cmp(read.Nonce) != 0 {
			return fmt.Errorf("%w: salt %s modified concurrently", ErrConflict, salt.Hex())
		}
	}
	for id := range tx.orderIDs {
		if _, used := s.orderIDs[id]; used {
			return fmt.Errorf("%w: %s", intent.ErrAlreadyUsed, id.Hex())
		}
	}
	for id := range tx.relayMessages {
		if _, used := s.relayMessages[id]; used {
			return fmt.Errorf("%w: %s", intent.ErrAlreadyRelayed, id.Hex())
		}
	}
	for _, id := range tx.resolved {
		if current, ok := s.failedRelays[id]; ok && current.Resolved {
			return fmt.Errorf("%w: failed relay %s", intent.ErrAlreadyResolved, id.Hex())
		}
	}

	for salt, rec := range tx.salts {
		s.salts[salt] = rec
	}
	for id := range tx.orderIDs {
		s.orderIDs[id] = struct{}{}
	}
	for id := range tx.relayMessages {
		s.relayMessages[id] = struct{}{}
	}
	for id, failed := range tx.failedRelays {
		s.failedRelays[id] = failed
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (tx *memoryTx) Rollback(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	return nil
}

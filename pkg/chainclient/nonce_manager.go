package chainclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

// nonceSyncInterval bounds how long the local counter is trusted without asking the node
const nonceSyncInterval = 5 * time.Minute

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// TransactionRecord tracks details about a transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceSource reports the next nonce the node would accept for an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for the settler's signing account without waiting for each
// transaction to be mined
type NonceManager struct {
	mu           sync.Mutex
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	txTimeout    time.Duration
	now          func() time.Time
	logger       logger.Logger
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		pendingTxs: make(map[uint64]*TransactionRecord),
		txTimeout:  5 * time.Minute,
		now:        time.Now,
		logger:     log,
	}
}

// SetTransactionTimeout sets the timeout for transactions
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.txTimeout = timeout
}

// GetNonce reserves and returns the next available nonce
func (nm *NonceManager) GetNonce(ctx context.Context, source NonceSource, address common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || nm.now().Sub(nm.lastSync) > nonceSyncInterval {
		if err := nm.syncLocked(ctx, source, address); err != nil {
			return 0, err
		}
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// SyncWithBlockchain synchronizes nonce state with the node
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, source NonceSource, address common.Address) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.syncLocked(ctx, source, address)
}

func (nm *NonceManager) syncLocked(ctx context.Context, source NonceSource, address common.Address) error {
	nonce, err := source.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}

	// only move forward, locally allocated nonces may not be visible to the node yet
	if nonce > nm.currentNonce {
		nm.logger.Debug("Updating nonce for %s: %d -> %d", address.Hex(), nm.currentNonce, nonce)
		nm.currentNonce = nonce
	}
	nm.lastSync = nm.now()
	return nil
}

// TrackTransaction records a new transaction
func (nm *NonceManager) TrackTransaction(txHash common.Hash, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := nm.now()
	nm.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.Debug("Tracking transaction with nonce %d: %s", nonce, txHash.Hex())
}

// MarkTransactionConfirmed marks a transaction as confirmed
func (nm *NonceManager) MarkTransactionConfirmed(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		nm.logger.Debug("No pending transaction found for nonce %d", nonce)
		return false
	}

	tx.Status = TxConfirmed
	tx.UpdatedAt = nm.now()
	delete(nm.pendingTxs, nonce)
	return true
}

// MarkTransactionFailed marks a transaction as failed. When it held the lowest pending nonce the
// nonce is handed out again and returned with true.
func (nm *NonceManager) MarkTransactionFailed(nonce uint64) (uint64, bool) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		nm.logger.Debug("No pending transaction found for nonce %d", nonce)
		return 0, false
	}

	tx.Status = TxFailed
	tx.UpdatedAt = nm.now()
	nm.logger.Error("Transaction failed with nonce %d: %s", nonce, tx.Hash.Hex())

	lowest, _ := nm.lowestPendingLocked()
	delete(nm.pendingTxs, nonce)
	if nonce == lowest {
		nm.currentNonce = nonce
		return nonce, true
	}
	return 0, false
}

// ReuseNonce returns an allocated nonce whose transaction was never broadcast
func (nm *NonceManager) ReuseNonce(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingTxs, nonce)
	lowest, ok := nm.lowestPendingLocked()
	if (!ok || nonce < lowest) && nm.currentNonce > nonce {
		nm.currentNonce = nonce
		return
	}
	nm.logger.Debug("Cannot reuse nonce %d, lower nonces are still pending", nonce)
}

// FindTimeoutTransactions returns the nonces of pending transactions older than the timeout
func (nm *NonceManager) FindTimeoutTransactions() []uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := nm.now()
	var timedOut []uint64
	for nonce, tx := range nm.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			nm.logger.Error("Transaction timed out with nonce %d: %s", nonce, tx.Hash.Hex())
			timedOut = append(timedOut, nonce)
		}
	}
	return timedOut
}

// GetPendingTransactionsCount returns the number of pending transactions
func (nm *NonceManager) GetPendingTransactionsCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pendingTxs)
}

func (nm *NonceManager) lowestPendingLocked() (uint64, bool) {
	var lowest uint64
	found := false
	for nonce := range nm.pendingTxs {
		if !found || nonce < lowest {
			lowest = nonce
			found = true
		}
	}
	return lowest, found
}

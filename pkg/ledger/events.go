package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType names an append-only ledger event
type EventType string

const (
	EventIntentFulfilled  EventType = "IntentFulfilled"
	EventIntentFailed     EventType = "IntentFailed"
	EventRelayExecuted    EventType = "RelayExecuted"
	EventRecoveryExecuted EventType = "RecoveryExecuted"
)

// Path is the execution path that produced an event
type Path string

const (
	PathDirect   Path = "direct"
	PathSwap     Path = "swap"
	PathRelay    Path = "relay"
	PathRecovery Path = "recovery"
)

// Event is a single ledger event. Exactly one of the payload fields is set, matching Type.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Path      Path        `json:"path"`
	OriginRef common.Hash `json:"originRef"`
	Timestamp time.Time   `json:"timestamp"`

	IntentFulfilled  *IntentFulfilled  `json:"intentFulfilled,omitempty"`
	IntentFailed     *IntentFailed     `json:"intentFailed,omitempty"`
	RelayExecuted    *RelayExecuted    `json:"relayExecuted,omitempty"`
	RecoveryExecuted *RecoveryExecuted `json:"recoveryExecuted,omitempty"`
}

// IntentFulfilled records a completed settlement.
// FeeAmount excludes the bridge fee, which is carried in FeeExecuted.
type IntentFulfilled struct {
	Salt         common.Hash    `json:"salt"`
	Nonce        *big.Int       `json:"nonce"`
	Usage        uint64         `json:"usage"`
	Merchant     common.Address `json:"merchant"`
	Signer       common.Address `json:"signer"`
	Digest       common.Hash    `json:"digest"`
	Amount       *big.Int       `json:"amount"`
	FeeBps       *big.Int       `json:"feeBps"`
	FeeRecipient common.Address `json:"feeRecipient"`
	NetAmount    *big.Int       `json:"netAmount"`
	FeeAmount    *big.Int       `json:"feeAmount"`
	FeeExecuted  *big.Int       `json:"feeExecuted"`
}

// IntentFailed records a settlement that failed after funds moved: a relay after its mint, or a
// transfer batch interrupted after some legs were paid. Paid is set in the latter case.
type IntentFailed struct {
	Reason string   `json:"reason"`
	Detail string   `json:"detail,omitempty"`
	Paid   *big.Int `json:"paid,omitempty"`
}

// RelayExecuted records a bridge message received into custody
type RelayExecuted struct {
	MessageID     common.Hash    `json:"messageId"`
	SourceDomain  uint32         `json:"sourceDomain"`
	BurnAsset     common.Hash    `json:"burnAsset"`
	MintRecipient common.Address `json:"mintRecipient"`
	Amount        *big.Int       `json:"amount"`
	FeeExecuted   *big.Int       `json:"feeExecuted"`
	Expiration    *big.Int       `json:"expiration"`
}

// RecoveryExecuted records funds moved out of custody by a recovery account
type RecoveryExecuted struct {
	Caller    common.Address `json:"caller"`
	Asset     common.Address `json:"asset"`
	To        common.Address `json:"to"`
	Amount    *big.Int       `json:"amount"`
	MessageID *common.Hash   `json:"messageId,omitempty"`
}

// EventFilter selects events. Zero values match everything.
type EventFilter struct {
	Type      EventType
	OriginRef *common.Hash
	// Limit caps the number of returned events, newest last. Zero means no limit.
	Limit int
}

// Match reports whether e passes the filter
func (f EventFilter) Match(e Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.OriginRef != nil && e.OriginRef != *f.OriginRef {
		return false
	}
	return true
}

// applyLimit keeps the last limit events
func applyLimit(events []Event, limit int) []Event {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}

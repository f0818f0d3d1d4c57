// Package ledger records which salts, order ids and relay messages have been consumed.
// Every mutation happens inside a Tx that commits together with the settlement outcome.
package ledger

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

// Transition is the outcome of comparing an incoming nonce against a salt's watermark
type Transition int

const (
	// TransitionStale rejects a nonce below the watermark
	TransitionStale Transition = iota
	// TransitionResetAndApply starts a new usage budget at a higher nonce
	TransitionResetAndApply
	// TransitionApplyWithinBudget spends from the current budget
	TransitionApplyWithinBudget
)

func (t Transition) String() string {
	switch t {
	case TransitionStale:
		return "stale"
	case TransitionResetAndApply:
		return "reset_and_apply"
	case TransitionApplyWithinBudget:
		return "apply_within_budget"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// SaltRecord is the consumption state of a single salt
type SaltRecord struct {
	Salt  common.Hash `json:"salt"`
	Usage uint64      `json:"usage"`
	// Nonce is the watermark, the highest nonce accepted so far
	Nonce *big.Int `json:"nonce"`
}

// NewSaltRecord returns the implicit record of a salt that was never consumed
func NewSaltRecord(salt common.Hash) SaltRecord {
	return SaltRecord{Salt: salt, Nonce: new(big.Int)}
}

// Classify compares an incoming nonce against the stored watermark
func Classify(incoming, watermark *big.Int) Transition {
	switch incoming.Cmp(watermark) {
	case -1:
		return TransitionStale
	case 1:
		return TransitionResetAndApply
	default:
		return TransitionApplyWithinBudget
	}
}

// Apply consumes one use of rec at nonce. On rejection rec is returned unchanged.
func Apply(rec SaltRecord, nonce *big.Int, quantityType intent.QuantityType, quantity *big.Int) (SaltRecord, Transition, error) {
	if rec.Nonce == nil {
		rec.Nonce = new(big.Int)
	}

	t := Classify(nonce, rec.Nonce)
	next := SaltRecord{Salt: rec.Salt, Usage: rec.Usage, Nonce: new(big.Int).Set(rec.Nonce)}

	switch t {
	case TransitionStale:
		return rec, t, fmt.Errorf("%w: nonce %s is below watermark %s", intent.ErrStaleNonce, nonce, rec.Nonce)
	case TransitionResetAndApply:
		next.Usage = 0
		next.Nonce.Set(nonce)
	case TransitionApplyWithinBudget:
	}

	if next.Usage == math.MaxUint64 {
		return rec, t, fmt.Errorf("%w: usage counter overflow", intent.ErrQuantityExhausted)
	}
	next.Usage++

	if quantityType == intent.QuantityFixed {
		if quantity == nil || new(big.Int).SetUint64(next.Usage).Cmp(quantity) > 0 {
			return rec, t, fmt.Errorf("%w: usage %d exceeds quantity %s", intent.ErrQuantityExhausted, next.Usage, quantity)
		}
	}

	return next, t, nil
}

package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
)

// RedeemRequest is a direct redemption: the payer funds the intent in full
type RedeemRequest struct {
	Payer     common.Address
	OrderID   common.Hash
	Intent    intent.PaymentIntent
	Signature []byte
}

// Redeem settles an intent on the direct path. Any error leaves the ledger and balances unchanged.
// A transfer interrupted after paying some legs yields a failed Outcome with the keys consumed.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest) (*Outcome, error) {
	start := time.Now()
	out, err := e.redeem(ctx, req)
	e.observe(ledger.PathDirect, start, out, err)
	return out, err
}

func (e *Engine) redeem(ctx context.Context, req RedeemRequest) (*Outcome, error) {
	p := req.Intent.Copy()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	digest, err := e.hasher.Hash(p)
	if err != nil {
		return nil, err
	}
	signer, err := e.authorizer.Authorize(ctx, p, digest, req.Signature)
	if err != nil {
		return nil, err
	}

	ctx, release, err := e.locks.Acquire(ctx, saltLockKey(p.SaltKey()), orderLockKey(req.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	orderID := req.OrderID
	var event ledger.Event
	err = e.commit(ctx, func(tx ledger.Tx) error {
		var err error
		event, err = e.settle(ctx, tx, settlement{
			path:      ledger.PathDirect,
			originRef: orderID,
			orderID:   &orderID,
			intent:    p,
			digest:    digest,
			signer:    signer,
			payer:     req.Payer,
			amount:    p.Amount,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return outcome(ledger.PathDirect, orderID, digest, event), nil
}

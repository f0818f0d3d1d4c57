package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
)

// SwapHookRequest is the router callback made after a swap delivered TokenOut to the router
type SwapHookRequest struct {
	Caller      common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountInMax *big.Int
	AmountOut   *big.Int
	// HookData is the packed or ABI encoded order id, intent and signature
	HookData []byte
}

// SwapHook settles the intent carried in the hook data with the router's swap output. An error
// must abort the enclosing swap. A failed Outcome reports legs that were already paid.
func (e *Engine) SwapHook(ctx context.Context, req SwapHookRequest) (*Outcome, error) {
	start := time.Now()
	out, err := e.swapHook(ctx, req)
	e.observe(ledger.PathSwap, start, out, err)
	return out, err
}

func (e *Engine) swapHook(ctx context.Context, req SwapHookRequest) (*Outcome, error) {
	if req.Caller != e.cfg.Router {
		return nil, fmt.Errorf("%w: %s is not the swap router", intent.ErrUnauthorizedCaller, req.Caller.Hex())
	}
	if req.TokenOut != e.cfg.Asset {
		return nil, fmt.Errorf("%w: swap output %s is not the settlement asset %s",
			intent.ErrAssetMismatch, req.TokenOut.Hex(), e.cfg.Asset.Hex())
	}

	hd, err := intent.DecodeHookData(req.HookData)
	if err != nil {
		return nil, err
	}
	p := &hd.Intent
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if req.AmountOut == nil || req.AmountOut.Cmp(p.Amount) != 0 {
		return nil, fmt.Errorf("%w: swap delivered %v, intent amount is %s", intent.ErrAmountMismatch, req.AmountOut, p.Amount)
	}

	digest, err := e.hasher.Hash(p)
	if err != nil {
		return nil, err
	}
	signer, err := e.authorizer.Authorize(ctx, p, digest, hd.Signature)
	if err != nil {
		return nil, err
	}

	ctx, release, err := e.locks.Acquire(ctx, saltLockKey(p.SaltKey()), orderLockKey(hd.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	e.logger.Debug("Swap hook %s: %s in (max %v), %s out", hd.OrderID.Hex(), req.TokenIn.Hex(), req.AmountInMax, req.AmountOut)

	orderID := hd.OrderID
	var event ledger.Event
	err = e.commit(ctx, func(tx ledger.Tx) error {
		var err error
		event, err = e.settle(ctx, tx, settlement{
			path:      ledger.PathSwap,
			originRef: orderID,
			orderID:   &orderID,
			intent:    p,
			digest:    digest,
			signer:    signer,
			payer:     req.Caller,
			amount:    p.Amount,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return outcome(ledger.PathSwap, orderID, digest, event), nil
}

package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
)

// RescueFunds moves amount of token out of custody. Only accounts holding the Recovery role may
// call it.
func (e *Engine) RescueFunds(ctx context.Context, caller, token, to common.Address, amount *big.Int) (*ledger.Event, error) {
	if err := roles.Require(ctx, e.registry, roles.Recovery, caller, intent.ErrUnauthorizedCaller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rescue amount must be greater than 0", intent.ErrMalformedPayload)
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: rescue recipient is the zero address", intent.ErrMalformedPayload)
	}

	event := e.recoveryEvent(common.Hash{}, caller, token, to, amount, nil)
	err := e.commit(ctx, func(tx ledger.Tx) error {
		if err := e.transfer(ctx, token, e.cfg.Custody, []asset.Leg{{To: to, Amount: new(big.Int).Set(amount)}}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		e.logger.Error("Rescue of %s %s to %s failed: %v", amount, token.Hex(), to.Hex(), err)
		return nil, err
	}

	metrics.RecoveryExecutions.WithLabelValues("rescue").Inc()
	e.logger.Notice("Recovery account %s rescued %s of %s to %s", caller.Hex(), amount, token.Hex(), to.Hex())
	return &event, nil
}

// ResolveFailedRelay pays the proceeds held for a failed relay to the given account. Each failed
// relay can be resolved once.
func (e *Engine) ResolveFailedRelay(ctx context.Context, caller common.Address, messageID common.Hash, to common.Address) (*ledger.Event, error) {
	if err := roles.Require(ctx, e.registry, roles.Recovery, caller, intent.ErrUnauthorizedCaller); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: recipient is the zero address", intent.ErrMalformedPayload)
	}

	ctx, release, err := e.locks.Acquire(ctx, relayLockKey(messageID))
	if err != nil {
		return nil, err
	}
	defer release()

	var event ledger.Event
	err = e.commit(ctx, func(tx ledger.Tx) error {
		failed, err := tx.ResolveFailedRelay(ctx, messageID, e.now().UTC())
		if err != nil {
			return err
		}
		if err := e.transfer(ctx, failed.Asset, e.cfg.Custody, []asset.Leg{{To: to, Amount: failed.Amount}}); err != nil {
			return err
		}
		id := messageID
		event = e.recoveryEvent(messageID, caller, failed.Asset, to, failed.Amount, &id)
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecoveryExecutions.WithLabelValues("resolve_failed_relay").Inc()
	e.logger.Notice("Recovery account %s resolved failed relay %s: %s paid to %s",
		caller.Hex(), messageID.Hex(), event.RecoveryExecuted.Amount, to.Hex())
	return &event, nil
}

func (e *Engine) recoveryEvent(originRef common.Hash, caller, token, to common.Address, amount *big.Int, messageID *common.Hash) ledger.Event {
	return ledger.Event{
		ID:        ledger.NewEventID(),
		Type:      ledger.EventRecoveryExecuted,
		Path:      ledger.PathRecovery,
		OriginRef: originRef,
		Timestamp: e.now().UTC(),
		RecoveryExecuted: &ledger.RecoveryExecuted{
			Caller:    caller,
			Asset:     token,
			To:        to,
			Amount:    new(big.Int).Set(amount),
			MessageID: messageID,
		},
	}
}

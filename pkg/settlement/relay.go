package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/cctp"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
)

// ErrNoTransmitter is returned by Relay when the engine has no message transmitter
var ErrNoTransmitter = errors.New("relay path disabled: no message transmitter configured")

// RelayRequest is a relayer submission of an attested bridge message and the intent it pays
type RelayRequest struct {
	Caller      common.Address
	Message     []byte
	Attestation []byte
	Intent      intent.PaymentIntent
	Signature   []byte
}

// Relay receives a burn-with-hook message into custody and settles the bound intent from the
// minted proceeds.
//
// Checks that do not depend on the mint (caller role, message layout, intent hash binding,
// amounts, recipients, message reuse) reject the request with no effect. Once the mint has
// happened the bridge funds have moved, so any later failure is recorded as an IntentFailed
// outcome with the proceeds held in custody, and Relay returns that outcome with a nil error.
func (e *Engine) Relay(ctx context.Context, req RelayRequest) (*Outcome, error) {
	start := time.Now()
	out, err := e.relay(ctx, req)
	e.observe(ledger.PathRelay, start, out, err)
	return out, err
}

func (e *Engine) relay(ctx context.Context, req RelayRequest) (*Outcome, error) {
	if e.transmitter == nil {
		return nil, ErrNoTransmitter
	}
	if err := roles.Require(ctx, e.registry, roles.Relayer, req.Caller, intent.ErrUnauthorizedCaller); err != nil {
		return nil, err
	}

	transfer, err := cctp.DecodeTransfer(req.Message)
	if err != nil {
		return nil, err
	}
	msg, burn, hook := transfer.Message, transfer.Burn, transfer.Hook

	if msg.DestinationDomain != e.cfg.LocalDomain {
		return nil, fmt.Errorf("%w: message is for domain %d, settler runs on %d",
			intent.ErrRecipientMismatch, msg.DestinationDomain, e.cfg.LocalDomain)
	}
	if hook.Target != e.hasher.VerifyingContract() {
		return nil, fmt.Errorf("%w: hook targets %s, settler is %s",
			intent.ErrRecipientMismatch, hook.Target.Hex(), e.hasher.VerifyingContract().Hex())
	}
	mintRecipient, ok := cctp.AddressFromBytes32(burn.MintRecipient)
	if !ok || mintRecipient != e.cfg.Custody {
		return nil, fmt.Errorf("%w: mint recipient %s is not custody %s",
			intent.ErrRecipientMismatch, burn.MintRecipient.Hex(), e.cfg.Custody.Hex())
	}

	p := req.Intent.Copy()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	digest, err := e.hasher.Hash(p)
	if err != nil {
		return nil, err
	}
	if hook.IntentHash != digest {
		return nil, fmt.Errorf("%w: message carries %s, intent hashes to %s",
			intent.ErrIntentHashMismatch, hook.IntentHash.Hex(), digest.Hex())
	}
	if burn.Amount.Cmp(p.Amount) != 0 {
		return nil, fmt.Errorf("%w: burned %s, intent amount is %s", intent.ErrAmountMismatch, burn.Amount, p.Amount)
	}

	messageID := msg.ID()
	ctx, release, err := e.locks.Acquire(ctx,
		relayLockKey(messageID), saltLockKey(p.SaltKey()), orderLockKey(hook.OrderID))
	if err != nil {
		return nil, err
	}
	defer release()

	// checked before opening a transaction, the store may serialize on a single connection
	used, err := e.store.RelayMessageUsed(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to check relay message %s: %w", messageID.Hex(), err)
	}
	if used {
		return nil, fmt.Errorf("%w: message %s", intent.ErrAlreadyRelayed, messageID.Hex())
	}

	// a message received on-chain but unknown to the ledger was minted by an attempt that never
	// committed; its proceeds are already in custody
	if err := e.transmitter.ReceiveMessage(ctx, req.Message, req.Attestation); err != nil {
		if !errors.Is(err, asset.ErrMessageAlreadyReceived) {
			return nil, fmt.Errorf("failed to receive message %s: %w", messageID.Hex(), err)
		}
		e.logger.NoticeWithDomain(msg.SourceDomain, "Message %s was received without a ledger record, settling from custody",
			messageID.Hex())
	}

	domainName := chains.GetDomainName(msg.SourceDomain)
	e.logger.InfoWithDomain(msg.SourceDomain, "Received message %s from %s: %s minted, bridge fee %s",
		messageID.Hex(), domainName,
		chains.FormatAmount(burn.Proceeds(), e.cfg.AssetDecimals),
		chains.FormatAmount(burn.FeeExecuted, e.cfg.AssetDecimals))

	relayed := e.relayExecutedEvent(transfer, mintRecipient)

	// the mint is irreversible from here on
	out, settleErr := e.settleRelay(ctx, transfer, relayed, p, digest, req.Signature)
	if settleErr == nil {
		return out, nil
	}

	return e.holdRelay(context.WithoutCancel(ctx), transfer, relayed, digest, settleErr)
}

// settleRelay authorizes the intent and settles it from custody with the minted proceeds
func (e *Engine) settleRelay(
	ctx context.Context,
	transfer *cctp.Transfer,
	relayed ledger.Event,
	p *intent.PaymentIntent,
	digest common.Hash,
	sig []byte,
) (*Outcome, error) {
	signer, err := e.authorizer.Authorize(ctx, p, digest, sig)
	if err != nil {
		return nil, err
	}

	messageID := transfer.Message.ID()
	orderID := transfer.Hook.OrderID
	var fulfilled ledger.Event
	err = e.commit(ctx, func(tx ledger.Tx) error {
		if err := tx.ConsumeRelayMessage(ctx, messageID); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, relayed); err != nil {
			return err
		}
		var err error
		fulfilled, err = e.settle(ctx, tx, settlement{
			path:        ledger.PathRelay,
			originRef:   messageID,
			orderID:     &orderID,
			intent:      p,
			digest:      digest,
			signer:      signer,
			payer:       e.cfg.Custody,
			amount:      transfer.Burn.Proceeds(),
			feeExecuted: transfer.Burn.FeeExecuted,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return outcome(ledger.PathRelay, messageID, digest, relayed, fulfilled), nil
}

// holdRelay records a post-mint failure: the message is consumed, the proceeds stay in custody
// as a failed relay and IntentFailed carries the reason
func (e *Engine) holdRelay(
	ctx context.Context,
	transfer *cctp.Transfer,
	relayed ledger.Event,
	digest common.Hash,
	cause error,
) (*Outcome, error) {
	messageID := transfer.Message.ID()
	reason := intent.Reason(cause)
	now := e.now().UTC()

	failed := ledger.Event{
		ID:           ledger.NewEventID(),
		Type:         ledger.EventIntentFailed,
		Path:         ledger.PathRelay,
		OriginRef:    messageID,
		Timestamp:    now,
		IntentFailed: &ledger.IntentFailed{Reason: string(reason), Detail: cause.Error()},
	}

	err := e.commit(ctx, func(tx ledger.Tx) error {
		if err := tx.ConsumeRelayMessage(ctx, messageID); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, relayed); err != nil {
			return err
		}
		if err := tx.RecordFailedRelay(ctx, ledger.FailedRelay{
			MessageID: messageID,
			OrderID:   transfer.Hook.OrderID,
			Asset:     e.cfg.Asset,
			Amount:    transfer.Burn.Proceeds(),
			Reason:    string(reason),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, failed)
	})
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to record relay failure for message %s: %w", messageID.Hex(), err),
			cause,
		)
	}

	return &Outcome{
		Status:    StatusFailed,
		Path:      ledger.PathRelay,
		OriginRef: messageID,
		Digest:    digest,
		Reason:    reason,
		Detail:    cause.Error(),
		Events:    []ledger.Event{relayed, failed},
	}, nil
}

func (e *Engine) relayExecutedEvent(transfer *cctp.Transfer, mintRecipient common.Address) ledger.Event {
	burn := transfer.Burn
	return ledger.Event{
		ID:        ledger.NewEventID(),
		Type:      ledger.EventRelayExecuted,
		Path:      ledger.PathRelay,
		OriginRef: transfer.Message.ID(),
		Timestamp: e.now().UTC(),
		RelayExecuted: &ledger.RelayExecuted{
			MessageID:     transfer.Message.ID(),
			SourceDomain:  transfer.Message.SourceDomain,
			BurnAsset:     burn.BurnToken,
			MintRecipient: mintRecipient,
			Amount:        burn.Amount,
			FeeExecuted:   burn.FeeExecuted,
			Expiration:    burn.ExpirationBlock,
		},
	}
}

// Package settlement redeems signed payment intents through the direct, swap and relay paths and
// runs the recovery operations for funds held in custody.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/auth"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/speedrun-hq/speedrun-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
)

// Config holds the deployment parameters of the engine
type Config struct {
	// Asset is the settlement asset
	Asset common.Address
	// Custody receives bridge mints and holds the proceeds of failed relays
	Custody common.Address
	// Router is the only caller allowed on the swap path
	Router common.Address
	// LocalDomain is the CCTP domain of the settlement chain
	LocalDomain uint32
	// AssetDecimals is only used to format amounts in logs
	AssetDecimals int32
}

// Engine settles payment intents. It is safe for concurrent use.
type Engine struct {
	cfg         Config
	store       ledger.Store
	hasher      *intent.Hasher
	authorizer  *auth.Authorizer
	registry    roles.Registry
	transfers   asset.Transferer
	transmitter asset.Transmitter
	breaker     *circuitbreaker.CircuitBreaker
	logger      logger.Logger
	locks       *KeyLocker
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithCircuitBreaker guards the asset transfer collaborator with cb
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(e *Engine) {
		e.breaker = cb
	}
}

// WithClock replaces time.Now for event timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTransmitter sets the bridge message transmitter used by the relay path
func WithTransmitter(t asset.Transmitter) Option {
	return func(e *Engine) {
		e.transmitter = t
	}
}

// NewEngine creates a settlement engine
func NewEngine(
	cfg Config,
	store ledger.Store,
	hasher *intent.Hasher,
	authorizer *auth.Authorizer,
	registry roles.Registry,
	transfers asset.Transferer,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		hasher:     hasher,
		authorizer: authorizer,
		registry:   registry,
		transfers:  transfers,
		logger:     &logger.EmptyLogger{},
		locks:      NewKeyLocker(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Hasher returns the hasher intents are verified against
func (e *Engine) Hasher() *intent.Hasher {
	return e.hasher
}

// Store returns the ledger store
func (e *Engine) Store() ledger.Store {
	return e.store
}

// Status is the terminal state of a redemption
type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Outcome is the terminal result of a redemption that reached the ledger
type Outcome struct {
	Status    Status            `json:"status"`
	Path      ledger.Path       `json:"path"`
	OriginRef common.Hash       `json:"originRef"`
	Digest    common.Hash       `json:"digest"`
	Reason    intent.ReasonCode `json:"reason,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Events    []ledger.Event    `json:"events"`
}

// Fulfilled returns the IntentFulfilled payload, or nil for a failed outcome
func (o *Outcome) Fulfilled() *ledger.IntentFulfilled {
	for _, ev := range o.Events {
		if ev.IntentFulfilled != nil {
			return ev.IntentFulfilled
		}
	}
	return nil
}

// settlement is one accepted intent ready to be applied inside a ledger transaction
type settlement struct {
	path        ledger.Path
	originRef   common.Hash
	orderID     *common.Hash
	intent      *intent.PaymentIntent
	digest      common.Hash
	signer      common.Address
	payer       common.Address
	amount      *big.Int
	feeExecuted *big.Int
}

// settle consumes the intent's ledger keys, moves the funds and appends IntentFulfilled, all
// inside tx. The caller commits.
//
// A transfer batch interrupted after some legs were paid cannot be rolled back, so the keys stay
// consumed and settle returns an IntentFailed event instead of an error.
func (e *Engine) settle(ctx context.Context, tx ledger.Tx, s settlement) (ledger.Event, error) {
	p := s.intent

	if s.orderID != nil {
		if err := tx.ConsumeOrderID(ctx, *s.orderID); err != nil {
			return ledger.Event{}, err
		}
	}

	rec, err := tx.ConsumeSalt(ctx, p.SaltKey(), p.Nonce, p.QuantityType, p.Quantity)
	if err != nil {
		return ledger.Event{}, err
	}

	split := ComputeSplit(s.amount, p.FeeBps)
	if err := e.transfer(ctx, e.cfg.Asset, s.payer, split.Legs(p.Merchant, p.FeeRecipient)); err != nil {
		var partial *asset.PartialTransferError
		if errors.As(err, &partial) {
			return e.settlePartial(ctx, tx, s, partial.PaidTotal(), err)
		}
		return ledger.Event{}, err
	}

	feeExecuted := s.feeExecuted
	if feeExecuted == nil {
		feeExecuted = new(big.Int)
	}
	event := ledger.Event{
		ID:        ledger.NewEventID(),
		Type:      ledger.EventIntentFulfilled,
		Path:      s.path,
		OriginRef: s.originRef,
		Timestamp: e.now().UTC(),
		IntentFulfilled: &ledger.IntentFulfilled{
			Salt:         p.SaltKey(),
			Nonce:        new(big.Int).Set(p.Nonce),
			Usage:        rec.Usage,
			Merchant:     p.Merchant,
			Signer:       s.signer,
			Digest:       s.digest,
			Amount:       new(big.Int).Set(p.Amount),
			FeeBps:       new(big.Int).Set(p.FeeBps),
			FeeRecipient: p.FeeRecipient,
			NetAmount:    split.Net,
			FeeAmount:    split.Fee,
			FeeExecuted:  new(big.Int).Set(feeExecuted),
		},
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return ledger.Event{}, err
	}
	return event, nil
}

// settlePartial records a settlement whose transfer stopped after paid of s.amount had moved.
// On the relay path the unpaid remainder is held in custody as a failed relay.
func (e *Engine) settlePartial(ctx context.Context, tx ledger.Tx, s settlement, paid *big.Int, cause error) (ledger.Event, error) {
	reason := intent.Reason(cause)
	now := e.now().UTC()

	if s.path == ledger.PathRelay {
		if err := tx.RecordFailedRelay(ctx, ledger.FailedRelay{
			MessageID: s.originRef,
			OrderID:   *s.orderID,
			Asset:     e.cfg.Asset,
			Amount:    new(big.Int).Sub(s.amount, paid),
			Reason:    string(reason),
			CreatedAt: now,
		}); err != nil {
			return ledger.Event{}, err
		}
	}

	event := ledger.Event{
		ID:        ledger.NewEventID(),
		Type:      ledger.EventIntentFailed,
		Path:      s.path,
		OriginRef: s.originRef,
		Timestamp: now,
		IntentFailed: &ledger.IntentFailed{
			Reason: string(reason),
			Detail: cause.Error(),
			Paid:   new(big.Int).Set(paid),
		},
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return ledger.Event{}, err
	}
	return event, nil
}

// outcome builds the result of a committed settlement whose last event is the one settle returned
func outcome(path ledger.Path, originRef, digest common.Hash, events ...ledger.Event) *Outcome {
	out := &Outcome{
		Status:    StatusFulfilled,
		Path:      path,
		OriginRef: originRef,
		Digest:    digest,
		Events:    events,
	}
	if failed := events[len(events)-1].IntentFailed; failed != nil {
		out.Status = StatusFailed
		out.Reason = intent.ReasonCode(failed.Reason)
		out.Detail = failed.Detail
	}
	return out
}

// transfer calls the asset collaborator through the circuit breaker. Any failure is reported
// as intent.ErrTransferFailed.
func (e *Engine) transfer(ctx context.Context, token, from common.Address, legs []asset.Leg) error {
	if len(legs) == 0 {
		return nil
	}
	if e.breaker != nil && e.breaker.IsOpen() {
		return fmt.Errorf("%w: circuit breaker %s is open", intent.ErrTransferFailed, e.breaker.Name())
	}

	if err := e.transfers.Transfer(ctx, token, from, legs); err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure()
		}
		return fmt.Errorf("%w: %w", intent.ErrTransferFailed, err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	return nil
}

// commit runs fn in a ledger transaction
func (e *Engine) commit(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return ledger.WithTx(ctx, e.store, fn)
}

// observe records metrics and logs for a finished redemption
func (e *Engine) observe(path ledger.Path, start time.Time, out *Outcome, err error) {
	metrics.RedemptionTime.WithLabelValues(string(path)).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		reason := intent.Reason(err)
		metrics.Redemptions.WithLabelValues(string(path), "rejected").Inc()
		metrics.Rejections.WithLabelValues(string(path), string(reason)).Inc()
		if intent.IsRejection(err) {
			e.logger.Info("Rejected %s redemption (%s): %v", path, reason, err)
		} else {
			e.logger.Error("Error processing %s redemption: %v", path, err)
		}
	case out.Status == StatusFailed && path == ledger.PathRelay:
		metrics.Redemptions.WithLabelValues(string(path), string(StatusFailed)).Inc()
		metrics.FailedRelaysHeld.WithLabelValues(string(out.Reason)).Inc()
		e.logger.Error("Redemption %s failed after the bridge mint (%s), proceeds held in custody: %s",
			out.OriginRef.Hex(), out.Reason, out.Detail)
	case out.Status == StatusFailed:
		metrics.Redemptions.WithLabelValues(string(path), string(StatusFailed)).Inc()
		e.logger.Error("Redemption %s on the %s path was partially paid (%s), ledger keys stay consumed: %s",
			out.OriginRef.Hex(), path, out.Reason, out.Detail)
	default:
		metrics.Redemptions.WithLabelValues(string(path), string(StatusFulfilled)).Inc()
		if f := out.Fulfilled(); f != nil {
			metrics.SettledVolume.WithLabelValues(string(path)).Add(toFloat(f.Amount))
			metrics.FeesCollected.WithLabelValues(string(path)).Add(toFloat(f.FeeAmount))
			if f.FeeExecuted.Sign() > 0 {
				metrics.BridgeFees.Add(toFloat(f.FeeExecuted))
			}
			e.logger.Notice("Fulfilled %s redemption %s: %s to merchant %s, fee %s",
				path, out.OriginRef.Hex(),
				chains.FormatAmount(f.NetAmount, e.cfg.AssetDecimals), f.Merchant.Hex(),
				chains.FormatAmount(f.FeeAmount, e.cfg.AssetDecimals))
		}
	}
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

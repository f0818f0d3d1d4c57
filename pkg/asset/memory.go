package asset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/cctp"
)

// ErrMessageAlreadyReceived is returned when a bridge message is delivered twice
var ErrMessageAlreadyReceived = errors.New("message already received")

// TransferHook runs inside Transfer before balances change, with the caller's context. Tests use
// it to model recipients that call back into the settler.
type TransferHook func(ctx context.Context, asset, from common.Address, legs []Leg) error

// MemoryBank keeps balances per asset and account in memory
type MemoryBank struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
	failing  map[common.Address]error
	stopping map[common.Address]error
	hook     TransferHook
}

var _ Transferer = (*MemoryBank)(nil)

// NewMemoryBank creates an empty bank
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		failing:  make(map[common.Address]error),
		stopping: make(map[common.Address]error),
	}
}

// Mint credits amount to account
func (b *MemoryBank) Mint(asset, account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creditLocked(asset, account, amount)
}

// Balance returns the balance of account
func (b *MemoryBank) Balance(asset, account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[asset][account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// FailTransfersTo makes every transfer with a leg to account fail with err. A nil err clears it.
func (b *MemoryBank) FailTransfersTo(account common.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failing, account)
		return
	}
	b.failing[account] = err
}

// InterruptTransfersTo makes the leg to account fail with err after the legs before it were
// paid, the way a batch of separate on-chain transactions fails. A nil err clears it.
func (b *MemoryBank) InterruptTransfersTo(account common.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.stopping, account)
		return
	}
	b.stopping[account] = err
}

// SetTransferHook installs a hook run at the start of every transfer
func (b *MemoryBank) SetTransferHook(hook TransferHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

func (b *MemoryBank) Transfer(ctx context.Context, asset, from common.Address, legs []Leg) error {
	total, err := Total(legs)
	if err != nil {
		return err
	}

	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()

	// the hook runs unlocked so it can call back into the bank
	if hook != nil {
		if err := hook(ctx, asset, from, legs); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, leg := range legs {
		if err, ok := b.failing[leg.To]; ok {
			return fmt.Errorf("transfer to %s rejected: %w", leg.To.Hex(), err)
		}
	}

	balance := b.balances[asset][from]
	if balance == nil || balance.Cmp(total) < 0 {
		have := "0"
		if balance != nil {
			have = balance.String()
		}
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), have, total)
	}

	for i, leg := range legs {
		if err, ok := b.stopping[leg.To]; ok {
			err = fmt.Errorf("transfer to %s reverted: %w", leg.To.Hex(), err)
			if i == 0 {
				return err
			}
			return &PartialTransferError{Paid: append([]Leg(nil), legs[:i]...), Failed: leg, Err: err}
		}
		balance.Sub(balance, leg.Amount)
		b.creditLocked(asset, leg.To, leg.Amount)
	}
	return nil
}

func (b *MemoryBank) creditLocked(asset, account common.Address, amount *big.Int) {
	accounts, ok := b.balances[asset]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		b.balances[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = new(big.Int)
		accounts[account] = bal
	}
	bal.Add(bal, amount)
}

// MemoryTransmitter mints burned amounts into a MemoryBank, standing in for the destination
// chain's message transmitter. Attestations are not verified.
type MemoryTransmitter struct {
	bank  *MemoryBank
	asset common.Address

	mu       sync.Mutex
	received map[common.Hash]struct{}
	err      error
}

var _ Transmitter = (*MemoryTransmitter)(nil)

// NewMemoryTransmitter mints asset into bank for every received message
func NewMemoryTransmitter(bank *MemoryBank, asset common.Address) *MemoryTransmitter {
	return &MemoryTransmitter{
		bank:     bank,
		asset:    asset,
		received: make(map[common.Hash]struct{}),
	}
}

// FailWith makes subsequent ReceiveMessage calls fail with err. A nil err clears it.
func (t *MemoryTransmitter) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *MemoryTransmitter) ReceiveMessage(_ context.Context, message []byte, attestation []byte) error {
	if len(attestation) == 0 {
		return errors.New("missing attestation")
	}

	transfer, err := cctp.DecodeTransfer(message)
	if err != nil {
		return err
	}
	recipient, ok := cctp.AddressFromBytes32(transfer.Burn.MintRecipient)
	if !ok {
		return fmt.Errorf("mint recipient %s is not an EVM address", transfer.Burn.MintRecipient.Hex())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	id := transfer.Message.ID()
	if _, ok := t.received[id]; ok {
		return fmt.Errorf("%w: %s", ErrMessageAlreadyReceived, id.Hex())
	}
	t.received[id] = struct{}{}

	t.bank.Mint(t.asset, recipient, transfer.Burn.Proceeds())
	return nil
}

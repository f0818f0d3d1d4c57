// Package asset defines the value-moving collaborators of the settlement engine and an in-memory
// implementation used by tests, the CLI and single-process deployments.
package asset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when the payer cannot cover all legs
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidLeg is returned for a leg with a negative or missing amount
	ErrInvalidLeg = errors.New("invalid transfer leg")
)

// Leg is one payment inside an atomic batch
type Leg struct {
	To     common.Address
	Amount *big.Int
}

// Total sums the leg amounts
func Total(legs []Leg) (*big.Int, error) {
	total := new(big.Int)
	for i, leg := range legs {
		if leg.Amount == nil || leg.Amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: leg %d to %s", ErrInvalidLeg, i, leg.To.Hex())
		}
		total.Add(total, leg.Amount)
	}
	return total, nil
}

// PartialTransferError reports a batch that stopped after some of its legs were paid. Paid legs
// cannot be undone.
type PartialTransferError struct {
	Paid   []Leg
	Failed Leg
	Err    error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("partial transfer: %d leg(s) totalling %s paid before the leg to %s failed: %v",
		len(e.Paid), e.PaidTotal(), e.Failed.To.Hex(), e.Err)
}

func (e *PartialTransferError) Unwrap() error {
	return e.Err
}

// PaidTotal sums the paid legs
func (e *PartialTransferError) PaidTotal() *big.Int {
	total := new(big.Int)
	for _, leg := range e.Paid {
		total.Add(total, leg.Amount)
	}
	return total
}

// Transferer moves an asset from one account to several recipients. Either every leg is paid or
// none is, except when the error is a *PartialTransferError naming the legs already paid.
type Transferer interface {
	Transfer(ctx context.Context, asset common.Address, from common.Address, legs []Leg) error
}

// Transmitter delivers an attested bridge message, minting the burned amount to its recipient
type Transmitter interface {
	ReceiveMessage(ctx context.Context, message []byte, attestation []byte) error
}

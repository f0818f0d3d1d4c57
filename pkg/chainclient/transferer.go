package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

// tokenReader is the read side of an ERC-20 used before submitting transfers
type tokenReader interface {
	BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error)
	Allowance(opts *bind.CallOpts, owner common.Address, spender common.Address) (*big.Int, error)
}

// ERC20Transferer moves ERC-20 tokens with the client's signing account. Transfers out of the
// signing account use transfer, transfers out of any other account use transferFrom against the
// allowance granted to the signing account.
//
// Legs are separate transactions. Balance and allowance for the whole batch are checked before
// the first one is sent so a batch that cannot be paid sends nothing. A leg failing after an
// earlier one was mined returns an *asset.PartialTransferError.
type ERC20Transferer struct {
	client *Client
	logger logger.Logger
}

var _ asset.Transferer = (*ERC20Transferer)(nil)

// NewERC20Transferer creates a transferer signing with client
func NewERC20Transferer(client *Client) *ERC20Transferer {
	return &ERC20Transferer{client: client, logger: client.logger}
}

func (t *ERC20Transferer) Transfer(ctx context.Context, token common.Address, from common.Address, legs []asset.Leg) error {
	total, err := asset.Total(legs)
	if err != nil {
		return err
	}
	if total.Sign() == 0 {
		return nil
	}

	erc20, err := contracts.NewERC20(token, t.client.Client)
	if err != nil {
		return fmt.Errorf("failed to bind token %s: %v", token.Hex(), err)
	}

	spender := t.client.Address()
	if err := checkFunds(ctx, &erc20.ERC20Caller, from, spender, total); err != nil {
		return err
	}

	return payLegs(ctx, legs, func(ctx context.Context, leg asset.Leg) error {
		receipt, err := t.client.send(ctx, 0, func(opts *bind.TransactOpts) (*types.Transaction, error) {
			if from == spender {
				return erc20.Transfer(opts, leg.To, leg.Amount)
			}
			return erc20.TransferFrom(opts, from, leg.To, leg.Amount)
		})
		if err != nil {
			return err
		}
		t.logger.Debug("Transferred %s of %s from %s to %s in %s",
			leg.Amount, token.Hex(), from.Hex(), leg.To.Hex(), receipt.TxHash.Hex())
		return nil
	})
}

// legPayer pays a single leg, returning once its transaction is mined
type legPayer func(ctx context.Context, leg asset.Leg) error

// payLegs pays legs in order and stops at the first failure. A leg whose receipt never arrived
// counts as unpaid.
func payLegs(ctx context.Context, legs []asset.Leg, pay legPayer) error {
	var paid []asset.Leg
	for i, leg := range legs {
		if leg.Amount.Sign() == 0 {
			continue
		}
		if err := pay(ctx, leg); err != nil {
			err = fmt.Errorf("leg %d of %d to %s: %w", i+1, len(legs), leg.To.Hex(), err)
			if len(paid) > 0 {
				return &asset.PartialTransferError{Paid: paid, Failed: leg, Err: err}
			}
			return err
		}
		paid = append(paid, leg)
	}
	return nil
}

// checkFunds verifies from can cover total, including the allowance when spender pulls the funds
func checkFunds(ctx context.Context, token tokenReader, from, spender common.Address, total *big.Int) error {
	opts := &bind.CallOpts{Context: ctx}

	balance, err := token.BalanceOf(opts, from)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %v", from.Hex(), err)
	}
	if balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", asset.ErrInsufficientBalance, from.Hex(), balance, total)
	}

	if from == spender {
		return nil
	}
	allowance, err := token.Allowance(opts, from, spender)
	if err != nil {
		return fmt.Errorf("failed to read allowance of %s: %v", from.Hex(), err)
	}
	if allowance.Cmp(total) < 0 {
		return fmt.Errorf("%w: %s approved %s, needs %s", asset.ErrInsufficientBalance, from.Hex(), allowance, total)
	}
	return nil
}

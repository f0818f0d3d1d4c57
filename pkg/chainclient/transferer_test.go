package chainclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/auth"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legToken sends every leg as its own transfer, like ERC20Transferer, against in-memory balances
type legToken struct {
	fakeToken
	reverts map[common.Address]error
	sent    int
}

func (f *legToken) Transfer(ctx context.Context, _ common.Address, from common.Address, legs []asset.Leg) error {
	total, err := asset.Total(legs)
	if err != nil {
		return err
	}
	if err := checkFunds(ctx, &f.fakeToken, from, from, total); err != nil {
		return err
	}
	return payLegs(ctx, legs, func(_ context.Context, leg asset.Leg) error {
		f.sent++
		if err, ok := f.reverts[leg.To]; ok {
			return err
		}
		f.balances[from].Sub(f.balances[from], leg.Amount)
		if _, ok := f.balances[leg.To]; !ok {
			f.balances[leg.To] = new(big.Int)
		}
		f.balances[leg.To].Add(f.balances[leg.To], leg.Amount)
		return nil
	})
}

func TestPayLegs(t *testing.T) {
	ctx := context.Background()
	merchant := common.HexToAddress("0x2002")
	feeTo := common.HexToAddress("0x3003")
	revert := errors.New("execution reverted")
	legs := []asset.Leg{{To: merchant, Amount: big.NewInt(99)}, {To: feeTo, Amount: big.NewInt(1)}}

	t.Run("all legs", func(t *testing.T) {
		var paid []common.Address
		err := payLegs(ctx, legs, func(_ context.Context, leg asset.Leg) error {
			paid = append(paid, leg.To)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []common.Address{merchant, feeTo}, paid)
	})

	t.Run("first leg fails", func(t *testing.T) {
		err := payLegs(ctx, legs, func(context.Context, asset.Leg) error { return revert })
		require.ErrorIs(t, err, revert)
		var partial *asset.PartialTransferError
		assert.False(t, errors.As(err, &partial), "nothing was paid")
	})

	t.Run("second leg fails", func(t *testing.T) {
		err := payLegs(ctx, legs, func(_ context.Context, leg asset.Leg) error {
			if leg.To == feeTo {
				return revert
			}
			return nil
		})
		var partial *asset.PartialTransferError
		require.ErrorAs(t, err, &partial)
		require.ErrorIs(t, err, revert)
		assert.Equal(t, "99", partial.PaidTotal().String())
		assert.Equal(t, feeTo, partial.Failed.To)
		assert.Contains(t, err.Error(), "leg 2 of 2")
	})

	t.Run("zero legs skipped", func(t *testing.T) {
		calls := 0
		err := payLegs(ctx, []asset.Leg{{To: merchant, Amount: new(big.Int)}}, func(context.Context, asset.Leg) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, calls)
	})
}

func TestInterruptedLegsKeepOrderConsumed(t *testing.T) {
	ctx := context.Background()
	usdc := common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	verifying := common.HexToAddress("0x9999999999999999999999999999999999999999")
	payer := common.HexToAddress("0xba7e")
	feeTo := common.HexToAddress("0xfee0000000000000000000000000000000000fee")

	merchantKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	merchant := crypto.PubkeyToAddress(merchantKey.PublicKey)

	token := &legToken{
		fakeToken: fakeToken{balances: map[common.Address]*big.Int{payer: big.NewInt(200_000000)}},
		reverts:   map[common.Address]error{feeTo: errors.New("execution reverted: blocked")},
	}

	hasher, err := intent.NewHasher(big.NewInt(8453), verifying)
	require.NoError(t, err)
	registry := roles.NewMemoryRegistry()
	store := ledger.NewMemoryStore()
	engine := settlement.NewEngine(settlement.Config{
		Asset:         usdc,
		Custody:       verifying,
		LocalDomain:   6,
		AssetDecimals: 6,
	}, store, hasher, auth.NewAuthorizer(registry), registry, token)

	p := intent.PaymentIntent{
		Amount:       big.NewInt(100_000000),
		FeeBps:       big.NewInt(100),
		FeeRecipient: feeTo,
		Merchant:     merchant,
		Salt:         big.NewInt(1),
		QuantityType: intent.QuantityUnlimited,
		Quantity:     big.NewInt(0),
		SignerType:   intent.SignerMerchant,
		Signer:       merchant,
		Nonce:        big.NewInt(0),
	}
	digest, err := hasher.Hash(&p)
	require.NoError(t, err)
	sig, err := intent.Sign(digest, merchantKey)
	require.NoError(t, err)

	orderID := common.HexToHash("0x01")
	req := settlement.RedeemRequest{Payer: payer, OrderID: orderID, Intent: p, Signature: sig}

	out, err := engine.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusFailed, out.Status)
	assert.Equal(t, intent.ReasonTransferFailed, out.Reason)
	assert.Equal(t, "99000000", token.balances[merchant].String())
	assert.Equal(t, 2, token.sent)

	used, err := store.OrderIDUsed(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, used, "the merchant leg was mined, the order id must stay consumed")

	_, err = engine.Redeem(ctx, req)
	require.ErrorIs(t, err, intent.ErrAlreadyUsed)
	assert.Equal(t, "99000000", token.balances[merchant].String())
	assert.Equal(t, 2, token.sent, "the resubmission sends nothing")
}

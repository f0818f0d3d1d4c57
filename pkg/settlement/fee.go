package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

var bpsDenominator = big.NewInt(intent.MaxFeeBps)

// Split is the division of a settled amount between merchant and fee recipient
type Split struct {
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// ComputeSplit takes fee = amount * feeBps / 10000, truncated, and pays the rest to the merchant
func ComputeSplit(amount, feeBps *big.Int) Split {
	fee := new(big.Int).Mul(amount, feeBps)
	fee.Quo(fee, bpsDenominator)
	return Split{
		Gross: new(big.Int).Set(amount),
		Fee:   fee,
		Net:   new(big.Int).Sub(amount, fee),
	}
}

// Legs returns the transfer legs for the split, omitting zero amounts
func (s Split) Legs(merchant, feeRecipient common.Address) []asset.Leg {
	legs := make([]asset.Leg, 0, 2)
	if s.Net.Sign() > 0 {
		legs = append(legs, asset.Leg{To: merchant, Amount: new(big.Int).Set(s.Net)})
	}
	if s.Fee.Sign() > 0 {
		legs = append(legs, asset.Leg{To: feeRecipient, Amount: new(big.Int).Set(s.Fee)})
	}
	return legs
}

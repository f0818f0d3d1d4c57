package cctp

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

// Body field offsets of a BurnMessageV2
const (
	burnVersionIndex     = 0
	burnTokenIndex       = 4
	mintRecipientIndex   = 36
	amountIndex          = 68
	messageSenderIndex   = 100
	maxFeeIndex          = 132
	feeExecutedIndex     = 164
	expirationBlockIndex = 196
	hookDataIndex        = 228
)

// BurnMessageVersion is the only burn body version accepted
const BurnMessageVersion uint32 = 1

// BurnMessage is the decoded body of a token burn
type BurnMessage struct {
	Version         uint32
	BurnToken       common.Hash
	MintRecipient   common.Hash
	Amount          *big.Int
	MessageSender   common.Hash
	MaxFee          *big.Int
	FeeExecuted     *big.Int
	ExpirationBlock *big.Int
	HookData        []byte
}

// DecodeBurnMessage parses a burn message body
func DecodeBurnMessage(body []byte) (*BurnMessage, error) {
	if len(body) < hookDataIndex {
		return nil, fmt.Errorf("%w: burn body is %d bytes, needs at least %d", intent.ErrMalformedPayload, len(body), hookDataIndex)
	}

	b := &BurnMessage{
		Version:         binary.BigEndian.Uint32(body[burnVersionIndex:]),
		BurnToken:       common.BytesToHash(body[burnTokenIndex:mintRecipientIndex]),
		MintRecipient:   common.BytesToHash(body[mintRecipientIndex:amountIndex]),
		Amount:          new(big.Int).SetBytes(body[amountIndex:messageSenderIndex]),
		MessageSender:   common.BytesToHash(body[messageSenderIndex:maxFeeIndex]),
		MaxFee:          new(big.Int).SetBytes(body[maxFeeIndex:feeExecutedIndex]),
		FeeExecuted:     new(big.Int).SetBytes(body[feeExecutedIndex:expirationBlockIndex]),
		ExpirationBlock: new(big.Int).SetBytes(body[expirationBlockIndex:hookDataIndex]),
		HookData:        common.CopyBytes(body[hookDataIndex:]),
	}
	if b.Version != BurnMessageVersion {
		return nil, fmt.Errorf("%w: unsupported burn message version %d", intent.ErrMalformedPayload, b.Version)
	}
	return b, nil
}

// Encode serializes the burn message body
func (b *BurnMessage) Encode() []byte {
	out := make([]byte, hookDataIndex+len(b.HookData))
	binary.BigEndian.PutUint32(out[burnVersionIndex:], b.Version)
	copy(out[burnTokenIndex:], b.BurnToken[:])
	copy(out[mintRecipientIndex:], b.MintRecipient[:])
	copy(out[amountIndex:messageSenderIndex], math.U256Bytes(orZero(b.Amount)))
	copy(out[messageSenderIndex:], b.MessageSender[:])
	copy(out[maxFeeIndex:feeExecutedIndex], math.U256Bytes(orZero(b.MaxFee)))
	copy(out[feeExecutedIndex:expirationBlockIndex], math.U256Bytes(orZero(b.FeeExecuted)))
	copy(out[expirationBlockIndex:hookDataIndex], math.U256Bytes(orZero(b.ExpirationBlock)))
	copy(out[hookDataIndex:], b.HookData)
	return out
}

// Proceeds returns the amount minted to the recipient after the bridge fee
func (b *BurnMessage) Proceeds() *big.Int {
	return new(big.Int).Sub(b.Amount, b.FeeExecuted)
}

// ValidateFee checks that the executed fee is within the burn's maximum and amount
func (b *BurnMessage) ValidateFee() error {
	if b.FeeExecuted.Cmp(b.MaxFee) > 0 {
		return fmt.Errorf("%w: fee executed %s exceeds max fee %s", intent.ErrMalformedPayload, b.FeeExecuted, b.MaxFee)
	}
	if b.FeeExecuted.Cmp(b.Amount) > 0 {
		return fmt.Errorf("%w: fee executed %s exceeds amount %s", intent.ErrMalformedPayload, b.FeeExecuted, b.Amount)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	// U256Bytes mutates its argument
	return new(big.Int).Set(v)
}

// Package intent defines payment intents, their EIP-712 hash, signature recovery,
// and the hook data codecs used by the swap and relay paths.
package intent

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// MaxFeeBps is the fee denominator, 100% expressed in basis points
const MaxFeeBps = 10000

// QuantityType selects whether an intent has a usage ceiling
type QuantityType uint8

const (
	// QuantityFixed limits redemptions per nonce to Quantity
	QuantityFixed QuantityType = iota
	// QuantityUnlimited never checks the usage counter
	QuantityUnlimited
)

// String returns the name used in logs and JSON
func (q QuantityType) String() string {
	switch q {
	case QuantityFixed:
		return "FIXED"
	case QuantityUnlimited:
		return "UNLIMITED"
	default:
		return fmt.Sprintf("QuantityType(%d)", uint8(q))
	}
}

// Valid reports whether q is a known quantity type
func (q QuantityType) Valid() bool {
	return q == QuantityFixed || q == QuantityUnlimited
}

// SignerType selects who must have signed an intent
type SignerType uint8

const (
	// SignerMerchant requires the merchant's own signature
	SignerMerchant SignerType = iota
	// SignerOperator requires a signature from an account holding the operator role
	SignerOperator
)

// String returns the name used in logs and JSON
func (s SignerType) String() string {
	switch s {
	case SignerMerchant:
		return "MERCHANT"
	case SignerOperator:
		return "OPERATOR"
	default:
		return fmt.Sprintf("SignerType(%d)", uint8(s))
	}
}

// Valid reports whether s is a known signer type
func (s SignerType) Valid() bool {
	return s == SignerMerchant || s == SignerOperator
}

// PaymentIntent is an off-chain signed authorization to pay Amount of the settlement
// asset to Merchant, taking FeeBps to FeeRecipient
type PaymentIntent struct {
	Amount       *big.Int
	FeeBps       *big.Int
	FeeRecipient common.Address
	Merchant     common.Address
	Salt         *big.Int
	QuantityType QuantityType
	Quantity     *big.Int
	SignerType   SignerType
	Signer       common.Address
	Nonce        *big.Int
}

// Validate checks the structural invariants of an intent. It does not check signatures.
func (p *PaymentIntent) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil intent", ErrInvalidIntent)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidIntent)
	}
	if p.FeeBps == nil || p.FeeBps.Sign() < 0 || p.FeeBps.Cmp(big.NewInt(MaxFeeBps)) > 0 {
		return fmt.Errorf("%w: feeBps must be between 0 and %d", ErrInvalidIntent, MaxFeeBps)
	}
	if !p.QuantityType.Valid() {
		return fmt.Errorf("%w: unknown quantity type %d", ErrInvalidIntent, uint8(p.QuantityType))
	}
	if !p.SignerType.Valid() {
		return fmt.Errorf("%w: unknown signer type %d", ErrInvalidIntent, uint8(p.SignerType))
	}

	for _, field := range []struct {
		name  string
		value *big.Int
	}{
		{"amount", p.Amount},
		{"salt", p.Salt},
		{"quantity", p.Quantity},
		{"nonce", p.Nonce},
	} {
		if field.value == nil {
			return fmt.Errorf("%w: %s is required", ErrInvalidIntent, field.name)
		}
		if field.value.Sign() < 0 || field.value.BitLen() > 256 {
			return fmt.Errorf("%w: %s does not fit in uint256", ErrInvalidIntent, field.name)
		}
	}
	return nil
}

// SaltKey returns the ledger key for the intent's salt
func (p *PaymentIntent) SaltKey() common.Hash {
	return common.BigToHash(p.Salt)
}

// Copy returns a deep copy of the intent
func (p *PaymentIntent) Copy() *PaymentIntent {
	cp := *p
	cp.Amount = copyBig(p.Amount)
	cp.FeeBps = copyBig(p.FeeBps)
	cp.Salt = copyBig(p.Salt)
	cp.Quantity = copyBig(p.Quantity)
	cp.Nonce = copyBig(p.Nonce)
	return &cp
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// intentJSON is the wire form of a PaymentIntent. Integers accept hex or decimal strings.
type intentJSON struct {
	Amount       *math.HexOrDecimal256 `json:"amount"`
	FeeBps       *math.HexOrDecimal256 `json:"feeBps"`
	FeeRecipient common.Address        `json:"feeRecipient"`
	Merchant     common.Address        `json:"merchant"`
	Salt         *math.HexOrDecimal256 `json:"salt"`
	QuantityType uint8                 `json:"quantityType"`
	Quantity     *math.HexOrDecimal256 `json:"quantity"`
	SignerType   uint8                 `json:"signerType"`
	Signer       common.Address        `json:"signer"`
	Nonce        *math.HexOrDecimal256 `json:"nonce"`
}

// MarshalJSON implements json.Marshaler
func (p PaymentIntent) MarshalJSON() ([]byte, error) {
	return json.Marshal(intentJSON{
		Amount:       (*math.HexOrDecimal256)(p.Amount),
		FeeBps:       (*math.HexOrDecimal256)(p.FeeBps),
		FeeRecipient: p.FeeRecipient,
		Merchant:     p.Merchant,
		Salt:         (*math.HexOrDecimal256)(p.Salt),
		QuantityType: uint8(p.QuantityType),
		Quantity:     (*math.HexOrDecimal256)(p.Quantity),
		SignerType:   uint8(p.SignerType),
		Signer:       p.Signer,
		Nonce:        (*math.HexOrDecimal256)(p.Nonce),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (p *PaymentIntent) UnmarshalJSON(data []byte) error {
	var raw intentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PaymentIntent{
		Amount:       (*big.Int)(raw.Amount),
		FeeBps:       (*big.Int)(raw.FeeBps),
		FeeRecipient: raw.FeeRecipient,
		Merchant:     raw.Merchant,
		Salt:         (*big.Int)(raw.Salt),
		QuantityType: QuantityType(raw.QuantityType),
		Quantity:     (*big.Int)(raw.Quantity),
		SignerType:   SignerType(raw.SignerType),
		Signer:       raw.Signer,
		Nonce:        (*big.Int)(raw.Nonce),
	}
	return nil
}

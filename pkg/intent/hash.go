package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainName is the EIP-712 domain name of the payment intent handler
	DomainName = "PaymentIntentHandler"
	// DomainVersion is the EIP-712 domain version
	DomainVersion = "1"
	// PrimaryType is the EIP-712 primary type name
	PrimaryType = "PaymentIntent"
)

// TypeString is the EIP-712 encodeType output for PaymentIntent
const TypeString = "PaymentIntent(uint256 amount,uint256 feeBps,address feeRecipient,address merchant,uint256 salt,uint8 quantityType,uint256 quantity,uint8 signerType,address signer,uint256 nonce)"

// TypeHash is keccak256(TypeString)
var TypeHash = crypto.Keccak256Hash([]byte(TypeString))

var typedDataTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "amount", Type: "uint256"},
		{Name: "feeBps", Type: "uint256"},
		{Name: "feeRecipient", Type: "address"},
		{Name: "merchant", Type: "address"},
		{Name: "salt", Type: "uint256"},
		{Name: "quantityType", Type: "uint8"},
		{Name: "quantity", Type: "uint256"},
		{Name: "signerType", Type: "uint8"},
		{Name: "signer", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// structArguments mirrors the PaymentIntent field order for fixed width ABI encoding
var structArguments = func() abi.Arguments {
	uint256, _ := abi.NewType("uint256", "", nil)
	uint8T, _ := abi.NewType("uint8", "", nil)
	address, _ := abi.NewType("address", "", nil)
	return abi.Arguments{
		{Name: "amount", Type: uint256},
		{Name: "feeBps", Type: uint256},
		{Name: "feeRecipient", Type: address},
		{Name: "merchant", Type: address},
		{Name: "salt", Type: uint256},
		{Name: "quantityType", Type: uint8T},
		{Name: "quantity", Type: uint256},
		{Name: "signerType", Type: uint8T},
		{Name: "signer", Type: address},
		{Name: "nonce", Type: uint256},
	}
}()

// EncodeStruct returns the canonical fixed width encoding of the intent, ten 32 byte words
// in declaration order
func EncodeStruct(p *PaymentIntent) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return structArguments.Pack(
		p.Amount,
		p.FeeBps,
		p.FeeRecipient,
		p.Merchant,
		p.Salt,
		uint8(p.QuantityType),
		p.Quantity,
		uint8(p.SignerType),
		p.Signer,
		p.Nonce,
	)
}

// Hasher computes domain separated digests for a single verifying contract on a single chain
type Hasher struct {
	chainID           *big.Int
	verifyingContract common.Address
	domainSeparator   common.Hash
}

// NewHasher creates a hasher bound to the given chain and verifying contract
func NewHasher(chainID *big.Int, verifyingContract common.Address) (*Hasher, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be greater than 0")
	}

	h := &Hasher{
		chainID:           new(big.Int).Set(chainID),
		verifyingContract: verifyingContract,
	}

	td := h.typedData(apitypes.TypedDataMessage{})
	separator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	h.domainSeparator = common.BytesToHash(separator)

	return h, nil
}

// ChainID returns the chain id of the domain
func (h *Hasher) ChainID() *big.Int {
	return new(big.Int).Set(h.chainID)
}

// VerifyingContract returns the verifying contract of the domain
func (h *Hasher) VerifyingContract() common.Address {
	return h.verifyingContract
}

// DomainSeparator returns the EIP-712 domain separator
func (h *Hasher) DomainSeparator() common.Hash {
	return h.domainSeparator
}

// TypedData returns the full EIP-712 document for the intent, suitable for eth_signTypedData_v4
func (h *Hasher) TypedData(p *PaymentIntent) apitypes.TypedData {
	return h.typedData(messageOf(p))
}

// StructHash returns hashStruct(PaymentIntent)
func (h *Hasher) StructHash(p *PaymentIntent) (common.Hash, error) {
	if err := p.Validate(); err != nil {
		return common.Hash{}, err
	}
	td := h.TypedData(p)
	hash, err := td.HashStruct(PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash intent: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Hash returns the digest a signer signs: keccak256(0x1901 || domainSeparator || structHash)
func (h *Hasher) Hash(p *PaymentIntent) (common.Hash, error) {
	structHash, err := h.StructHash(p)
	if err != nil {
		return common.Hash{}, err
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, h.domainSeparator.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	return crypto.Keccak256Hash(raw), nil
}

func (h *Hasher) typedData(message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       typedDataTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(h.chainID)),
			VerifyingContract: h.verifyingContract.Hex(),
		},
		Message: message,
	}
}

func messageOf(p *PaymentIntent) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"amount":       (*math.HexOrDecimal256)(p.Amount),
		"feeBps":       (*math.HexOrDecimal256)(p.FeeBps),
		"feeRecipient": p.FeeRecipient.Hex(),
		"merchant":     p.Merchant.Hex(),
		"salt":         (*math.HexOrDecimal256)(p.Salt),
		"quantityType": (*math.HexOrDecimal256)(big.NewInt(int64(p.QuantityType))),
		"quantity":     (*math.HexOrDecimal256)(p.Quantity),
		"signerType":   (*math.HexOrDecimal256)(big.NewInt(int64(p.SignerType))),
		"signer":       p.Signer.Hex(),
		"nonce":        (*math.HexOrDecimal256)(p.Nonce),
	}
}

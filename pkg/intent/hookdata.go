package intent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// PackedIntentSize is the fixed part of packed hook data: the intent fields and the order id
	PackedIntentSize = 254
	// PackedHeaderSize is the fixed part plus the uint16 signature length prefix
	PackedHeaderSize = PackedIntentSize + 2
	// MaxSignatureSize is the largest signature the length prefix can describe
	MaxSignatureSize = math.MaxUint16
)

// HookData is the payload a swap router hands to the swap hook
type HookData struct {
	OrderID   common.Hash
	Intent    PaymentIntent
	Signature []byte
}

// PackHookData encodes hook data in the tightly packed layout:
//
//	amount(32) feeBps(32) feeRecipient(20) merchant(20) salt(32) quantityType(1)
//	quantity(32) signerType(1) signer(20) nonce(32) orderId(32) sigLen(2) sig(sigLen)
func PackHookData(hd HookData) ([]byte, error) {
	if err := hd.Intent.Validate(); err != nil {
		return nil, err
	}
	if len(hd.Signature) > MaxSignatureSize {
		return nil, fmt.Errorf("%w: signature longer than %d bytes", ErrMalformedPayload, MaxSignatureSize)
	}

	p := hd.Intent
	buf := bytes.NewBuffer(make([]byte, 0, PackedHeaderSize+len(hd.Signature)))
	buf.Write(word(p.Amount))
	buf.Write(word(p.FeeBps))
	buf.Write(p.FeeRecipient.Bytes())
	buf.Write(p.Merchant.Bytes())
	buf.Write(word(p.Salt))
	buf.WriteByte(byte(p.QuantityType))
	buf.Write(word(p.Quantity))
	buf.WriteByte(byte(p.SignerType))
	buf.Write(p.Signer.Bytes())
	buf.Write(word(p.Nonce))
	buf.Write(hd.OrderID.Bytes())

	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(hd.Signature)))
	buf.Write(sigLen[:])
	buf.Write(hd.Signature)

	return buf.Bytes(), nil
}

// UnpackHookData decodes the packed layout written by PackHookData
func UnpackHookData(data []byte) (HookData, error) {
	if len(data) < PackedHeaderSize {
		return HookData{}, fmt.Errorf("%w: hook data is %d bytes, need at least %d", ErrMalformedPayload, len(data), PackedHeaderSize)
	}

	r := packedReader{data: data}
	var hd HookData
	hd.Intent.Amount = r.uint256()
	hd.Intent.FeeBps = r.uint256()
	hd.Intent.FeeRecipient = r.address()
	hd.Intent.Merchant = r.address()
	hd.Intent.Salt = r.uint256()
	hd.Intent.QuantityType = QuantityType(r.u8())
	hd.Intent.Quantity = r.uint256()
	hd.Intent.SignerType = SignerType(r.u8())
	hd.Intent.Signer = r.address()
	hd.Intent.Nonce = r.uint256()
	hd.OrderID = common.BytesToHash(r.next(32))

	sigLen := int(binary.BigEndian.Uint16(r.next(2)))
	if remaining := len(data) - r.off; remaining != sigLen {
		return HookData{}, fmt.Errorf("%w: signature length prefix %d, %d bytes remain", ErrMalformedPayload, sigLen, remaining)
	}
	hd.Signature = common.CopyBytes(r.next(sigLen))

	if !hd.Intent.QuantityType.Valid() {
		return HookData{}, fmt.Errorf("%w: quantity type %d", ErrMalformedPayload, uint8(hd.Intent.QuantityType))
	}
	if !hd.Intent.SignerType.Valid() {
		return HookData{}, fmt.Errorf("%w: signer type %d", ErrMalformedPayload, uint8(hd.Intent.SignerType))
	}

	return hd, nil
}

// DecodeHookData accepts either the packed layout or the ABI encoded
// tuple(bytes32 orderId, PaymentIntent intent, bytes signature)
func DecodeHookData(data []byte) (HookData, error) {
	if isABIEncoded(data) {
		if hd, err := decodeHookDataABI(data); err == nil {
			return hd, nil
		}
	}
	return UnpackHookData(data)
}

// EncodeHookDataABI encodes hook data as tuple(bytes32 orderId, PaymentIntent intent, bytes signature)
func EncodeHookDataABI(hd HookData) ([]byte, error) {
	if err := hd.Intent.Validate(); err != nil {
		return nil, err
	}
	p := hd.Intent
	return hookDataArguments.Pack(abiHookData{
		OrderId: hd.OrderID,
		Intent: abiIntent{
			Amount:       p.Amount,
			FeeBps:       p.FeeBps,
			FeeRecipient: p.FeeRecipient,
			Merchant:     p.Merchant,
			Salt:         p.Salt,
			QuantityType: uint8(p.QuantityType),
			Quantity:     p.Quantity,
			SignerType:   uint8(p.SignerType),
			Signer:       p.Signer,
			Nonce:        p.Nonce,
		},
		Signature: hd.Signature,
	})
}

// abiIntent and abiHookData mirror the ABI tuple field order; the abi package copies
// decoded values into them by position
type abiIntent struct {
	Amount       *big.Int
	FeeBps       *big.Int
	FeeRecipient common.Address
	Merchant     common.Address
	Salt         *big.Int
	QuantityType uint8
	Quantity     *big.Int
	SignerType   uint8
	Signer       common.Address
	Nonce        *big.Int
}

type abiHookData struct {
	OrderId   [32]byte
	Intent    abiIntent
	Signature []byte
}

var hookDataArguments = func() abi.Arguments {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "orderId", Type: "bytes32"},
		{Name: "intent", Type: "tuple", Components: []abi.ArgumentMarshaling{
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
		}},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid hook data abi type: %v", err))
	}
	return abi.Arguments{{Name: "hookData", Type: t}}
}()

func decodeHookDataABI(data []byte) (hd HookData, err error) {
	values, err := hookDataArguments.Unpack(data)
	if err != nil {
		return HookData{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(values) != 1 {
		return HookData{}, fmt.Errorf("%w: unexpected abi values", ErrMalformedPayload)
	}

	// ConvertType panics when the shapes differ
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedPayload, r)
		}
	}()
	decoded := abi.ConvertType(values[0], new(abiHookData)).(*abiHookData)

	in := decoded.Intent
	hd = HookData{
		OrderID: common.Hash(decoded.OrderId),
		Intent: PaymentIntent{
			Amount:       in.Amount,
			FeeBps:       in.FeeBps,
			FeeRecipient: in.FeeRecipient,
			Merchant:     in.Merchant,
			Salt:         in.Salt,
			QuantityType: QuantityType(in.QuantityType),
			Quantity:     in.Quantity,
			SignerType:   SignerType(in.SignerType),
			Signer:       in.Signer,
			Nonce:        in.Nonce,
		},
		Signature: decoded.Signature,
	}
	if !hd.Intent.QuantityType.Valid() || !hd.Intent.SignerType.Valid() {
		return HookData{}, fmt.Errorf("%w: enum out of range", ErrMalformedPayload)
	}
	return hd, nil
}

// isABIEncoded reports whether data looks like an ABI encoded dynamic tuple:
// whole words, starting with the 0x20 head offset
func isABIEncoded(data []byte) bool {
	if len(data) < 32*14 || len(data)%32 != 0 {
		return false
	}
	return new(big.Int).SetBytes(data[:32]).Cmp(big.NewInt(32)) == 0
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

type packedReader struct {
	data []byte
	off  int
}

func (r *packedReader) next(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *packedReader) uint256() *big.Int {
	return new(big.Int).SetBytes(r.next(32))
}

func (r *packedReader) address() common.Address {
	return common.BytesToAddress(r.next(20))
}

func (r *packedReader) u8() uint8 {
	return r.next(1)[0]
}

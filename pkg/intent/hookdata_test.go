package intent

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIntent() PaymentIntent {
	return PaymentIntent{
		Amount:       big.NewInt(100_000000),
		FeeBps:       big.NewInt(100),
		FeeRecipient: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Merchant:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Salt:         big.NewInt(42),
		QuantityType: QuantityFixed,
		Quantity:     big.NewInt(3),
		SignerType:   SignerMerchant,
		Signer:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nonce:        big.NewInt(7),
	}
}

func sampleHookData() HookData {
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	orderID := common.Hash{}
	for i := range orderID {
		orderID[i] = 0xab
	}
	return HookData{
		OrderID:   orderID,
		Intent:    sampleIntent(),
		Signature: sig,
	}
}

func TestPackHookData_Golden(t *testing.T) {
	packed, err := PackHookData(sampleHookData())
	require.NoError(t, err)
	assert.Len(t, packed, PackedHeaderSize+65)

	g := goldie.New(t)
	g.Assert(t, "packed_hook_data", []byte(hex.EncodeToString(packed)))
}

func TestPackHookData_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(hd *HookData)
	}{
		{
			name:   "merchant signed fixed quantity",
			mutate: func(hd *HookData) {},
		},
		{
			name: "operator signed unlimited",
			mutate: func(hd *HookData) {
				hd.Intent.QuantityType = QuantityUnlimited
				hd.Intent.SignerType = SignerOperator
				hd.Intent.Signer = common.HexToAddress("0x3333333333333333333333333333333333333333")
			},
		},
		{
			name: "empty signature",
			mutate: func(hd *HookData) {
				hd.Signature = []byte{}
			},
		},
		{
			name: "max uint256 values",
			mutate: func(hd *HookData) {
				maxU256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
				hd.Intent.Amount = maxU256
				hd.Intent.Salt = maxU256
				hd.Intent.Nonce = maxU256
				hd.Intent.Quantity = maxU256
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hd := sampleHookData()
			tt.mutate(&hd)

			packed, err := PackHookData(hd)
			require.NoError(t, err)

			decoded, err := UnpackHookData(packed)
			require.NoError(t, err)
			assert.Equal(t, hd.OrderID, decoded.OrderID)
			assert.Equal(t, hd.Signature, decoded.Signature)
			assertIntentEqual(t, hd.Intent, decoded.Intent)
		})
	}
}

func TestUnpackHookData_Malformed(t *testing.T) {
	packed, err := PackHookData(sampleHookData())
	require.NoError(t, err)

	tests := []struct {
		name string
		data func() []byte
	}{
		{
			name: "empty",
			data: func() []byte { return nil },
		},
		{
			name: "shorter than header",
			data: func() []byte { return packed[:PackedHeaderSize-1] },
		},
		{
			name: "truncated signature",
			data: func() []byte { return packed[:len(packed)-1] },
		},
		{
			name: "trailing bytes",
			data: func() []byte { return append(common.CopyBytes(packed), 0x00) },
		},
		{
			name: "quantity type out of range",
			data: func() []byte {
				b := common.CopyBytes(packed)
				b[136] = 2
				return b
			},
		},
		{
			name: "signer type out of range",
			data: func() []byte {
				b := common.CopyBytes(packed)
				b[169] = 9
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnpackHookData(tt.data())
			require.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestPackHookData_RejectsInvalidIntent(t *testing.T) {
	hd := sampleHookData()
	hd.Intent.FeeBps = big.NewInt(10001)

	_, err := PackHookData(hd)
	require.ErrorIs(t, err, ErrInvalidIntent)
}

func TestDecodeHookData(t *testing.T) {
	hd := sampleHookData()

	t.Run("packed form", func(t *testing.T) {
		packed, err := PackHookData(hd)
		require.NoError(t, err)

		decoded, err := DecodeHookData(packed)
		require.NoError(t, err)
		assert.Equal(t, hd.OrderID, decoded.OrderID)
		assertIntentEqual(t, hd.Intent, decoded.Intent)
	})

	t.Run("abi form", func(t *testing.T) {
		encoded, err := EncodeHookDataABI(hd)
		require.NoError(t, err)
		assert.Zero(t, len(encoded)%32)

		decoded, err := DecodeHookData(encoded)
		require.NoError(t, err)
		assert.Equal(t, hd.OrderID, decoded.OrderID)
		assert.Equal(t, hd.Signature, decoded.Signature)
		assertIntentEqual(t, hd.Intent, decoded.Intent)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeHookData(make([]byte, 100))
		require.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func assertIntentEqual(t *testing.T, want, got PaymentIntent) {
	t.Helper()
	assert.Equal(t, 0, want.Amount.Cmp(got.Amount), "amount")
	assert.Equal(t, 0, want.FeeBps.Cmp(got.FeeBps), "feeBps")
	assert.Equal(t, want.FeeRecipient, got.FeeRecipient)
	assert.Equal(t, want.Merchant, got.Merchant)
	assert.Equal(t, 0, want.Salt.Cmp(got.Salt), "salt")
	assert.Equal(t, want.QuantityType, got.QuantityType)
	assert.Equal(t, 0, want.Quantity.Cmp(got.Quantity), "quantity")
	assert.Equal(t, want.SignerType, got.SignerType)
	assert.Equal(t, want.Signer, got.Signer)
	assert.Equal(t, 0, want.Nonce.Cmp(got.Nonce), "nonce")
}

package intent

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an r || s || v signature
const SignatureLength = crypto.SignatureLength

// RecoverOptions tune signature recovery
type RecoverOptions struct {
	// EnforceLowS rejects signatures whose s value is in the upper half of the curve order
	EnforceLowS bool
}

// Recover returns the address that signed digest. The signature must be 65 bytes with
// v in {27, 28}.
func Recover(digest common.Hash, sig []byte, opts RecoverOptions) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}

	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidVParameter, v)
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v-27, r, s, opts.EnforceLowS) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrInvalidSignature)
	}

	// go-ethereum expects the recovery id in [0, 1]
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v - 27

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs digest with key and returns an r || s || v signature with v in {27, 28}
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

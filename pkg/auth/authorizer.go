// Package auth decides whether a signature authorizes a payment intent
package auth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
)

// Authorizer checks intent signatures against the signer rules and the role registry
type Authorizer struct {
	registry roles.Registry
	opts     intent.RecoverOptions
}

// Option configures an Authorizer
type Option func(*Authorizer)

// WithLowS rejects signatures with s in the upper half of the curve order
func WithLowS(enforce bool) Option {
	return func(a *Authorizer) {
		a.opts.EnforceLowS = enforce
	}
}

// NewAuthorizer creates an authorizer backed by registry
func NewAuthorizer(registry roles.Registry, opts ...Option) *Authorizer {
	a := &Authorizer{registry: registry}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize verifies that sig over digest comes from the signer the intent requires and
// returns that signer. It never mutates state.
//
// MERCHANT intents must be signed by the merchant and name the merchant as signer.
// OPERATOR intents must be signed by the named signer, who must hold the operator role now.
func (a *Authorizer) Authorize(ctx context.Context, p *intent.PaymentIntent, digest common.Hash, sig []byte) (common.Address, error) {
	recovered, err := intent.Recover(digest, sig, a.opts)
	if err != nil {
		return common.Address{}, err
	}

	switch p.SignerType {
	case intent.SignerMerchant:
		if p.Signer != p.Merchant {
			return common.Address{}, fmt.Errorf("%w: merchant intent names signer %s, merchant is %s",
				intent.ErrUnauthorizedSigner, p.Signer.Hex(), p.Merchant.Hex())
		}
		if recovered != p.Merchant {
			return common.Address{}, fmt.Errorf("%w: recovered %s, expected merchant %s",
				intent.ErrInvalidSignature, recovered.Hex(), p.Merchant.Hex())
		}
	case intent.SignerOperator:
		if recovered != p.Signer {
			return common.Address{}, fmt.Errorf("%w: recovered %s, expected operator %s",
				intent.ErrInvalidSignature, recovered.Hex(), p.Signer.Hex())
		}
		if err := roles.Require(ctx, a.registry, roles.Operator, recovered, intent.ErrUnauthorizedSigner); err != nil {
			return common.Address{}, err
		}
	default:
		return common.Address{}, fmt.Errorf("%w: unknown signer type %d", intent.ErrInvalidIntent, uint8(p.SignerType))
	}

	return recovered, nil
}

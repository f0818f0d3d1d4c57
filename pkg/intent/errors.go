package intent

import (
	"context"
	"errors"
)

// Rejection reasons shared by the codec, the ledger, and the settlement paths.
// Callers wrap them with context and match with errors.Is.
var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidVParameter   = errors.New("invalid v parameter")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnauthorizedSigner  = errors.New("unauthorized signer")
	ErrUnauthorizedCaller  = errors.New("unauthorized caller")
	ErrInvalidIntent       = errors.New("invalid intent")
	ErrStaleNonce          = errors.New("using old intent nonce")
	ErrQuantityExhausted   = errors.New("quantity already used")
	ErrAlreadyUsed         = errors.New("order id already used")
	ErrAlreadyRelayed      = errors.New("message already relayed")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrAssetMismatch       = errors.New("asset mismatch")
	ErrRecipientMismatch   = errors.New("recipient mismatch")
	ErrIntentHashMismatch  = errors.New("intent hash mismatch")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrReentrantRedemption = errors.New("reentrant redemption")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyResolved     = errors.New("already resolved")
)

// ReasonCode is the stable, machine readable form of a rejection
type ReasonCode string

const (
	ReasonMalformedPayload    ReasonCode = "malformed_payload"
	ReasonInvalidVParameter   ReasonCode = "invalid_v_parameter"
	ReasonInvalidSignature    ReasonCode = "invalid_signature"
	ReasonUnauthorizedSigner  ReasonCode = "unauthorized_signer"
	ReasonUnauthorizedCaller  ReasonCode = "unauthorized_caller"
	ReasonInvalidIntent       ReasonCode = "invalid_intent"
	ReasonStaleNonce          ReasonCode = "stale_nonce"
	ReasonQuantityExhausted   ReasonCode = "quantity_exhausted"
	ReasonAlreadyUsed         ReasonCode = "already_used"
	ReasonAlreadyRelayed      ReasonCode = "already_relayed"
	ReasonAmountMismatch      ReasonCode = "amount_mismatch"
	ReasonAssetMismatch       ReasonCode = "asset_mismatch"
	ReasonRecipientMismatch   ReasonCode = "recipient_mismatch"
	ReasonIntentHashMismatch  ReasonCode = "intent_hash_mismatch"
	ReasonTransferFailed      ReasonCode = "transfer_failed"
	ReasonReentrantRedemption ReasonCode = "reentrant_redemption"
	ReasonNotFound            ReasonCode = "not_found"
	ReasonAlreadyResolved     ReasonCode = "already_resolved"
	ReasonCanceled            ReasonCode = "canceled"
	ReasonInternal            ReasonCode = "internal_error"
)

var reasons = []struct {
	err  error
	code ReasonCode
}{
	{ErrMalformedPayload, ReasonMalformedPayload},
	{ErrInvalidVParameter, ReasonInvalidVParameter},
	{ErrInvalidSignature, ReasonInvalidSignature},
	{ErrUnauthorizedSigner, ReasonUnauthorizedSigner},
	{ErrUnauthorizedCaller, ReasonUnauthorizedCaller},
	{ErrInvalidIntent, ReasonInvalidIntent},
	{ErrStaleNonce, ReasonStaleNonce},
	{ErrQuantityExhausted, ReasonQuantityExhausted},
	{ErrAlreadyUsed, ReasonAlreadyUsed},
	{ErrAlreadyRelayed, ReasonAlreadyRelayed},
	{ErrAmountMismatch, ReasonAmountMismatch},
	{ErrAssetMismatch, ReasonAssetMismatch},
	{ErrRecipientMismatch, ReasonRecipientMismatch},
	{ErrIntentHashMismatch, ReasonIntentHashMismatch},
	{ErrTransferFailed, ReasonTransferFailed},
	{ErrReentrantRedemption, ReasonReentrantRedemption},
	{ErrNotFound, ReasonNotFound},
	{ErrAlreadyResolved, ReasonAlreadyResolved},
	{context.Canceled, ReasonCanceled},
	{context.DeadlineExceeded, ReasonCanceled},
}

// Reason maps an error to its reason code. Errors outside the taxonomy map to ReasonInternal.
func Reason(err error) ReasonCode {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ReasonInternal
}

// IsRejection reports whether err is a deterministic rejection, meaning resubmitting
// the same input can never succeed
func IsRejection(err error) bool {
	switch Reason(err) {
	case ReasonInternal, ReasonCanceled, ReasonTransferFailed, ReasonReentrantRedemption, "":
		return false
	default:
		return true
	}
}

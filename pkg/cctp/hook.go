package cctp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

// HookPayloadSize is the size of the payload carried in a burn's hook data
const HookPayloadSize = common.AddressLength + 2*common.HashLength

// HookPayload binds a burn to one signed intent on the destination chain
type HookPayload struct {
	// Target is the settlement contract expected to consume the burn
	Target     common.Address
	OrderID    common.Hash
	IntentHash common.Hash
}

// EncodeHookPayload packs target || orderId || intentHash
func EncodeHookPayload(p HookPayload) []byte {
	out := make([]byte, 0, HookPayloadSize)
	out = append(out, p.Target.Bytes()...)
	out = append(out, p.OrderID.Bytes()...)
	out = append(out, p.IntentHash.Bytes()...)
	return out
}

// DecodeHookPayload unpacks hook data. Trailing bytes beyond the payload are rejected.
func DecodeHookPayload(data []byte) (HookPayload, error) {
	if len(data) != HookPayloadSize {
		return HookPayload{}, fmt.Errorf("%w: hook payload is %d bytes, want %d", intent.ErrMalformedPayload, len(data), HookPayloadSize)
	}
	return HookPayload{
		Target:     common.BytesToAddress(data[:common.AddressLength]),
		OrderID:    common.BytesToHash(data[common.AddressLength : common.AddressLength+common.HashLength]),
		IntentHash: common.BytesToHash(data[common.AddressLength+common.HashLength:]),
	}, nil
}

// Transfer is a fully decoded relay message: header, burn body and hook payload
type Transfer struct {
	Message *Message
	Burn    *BurnMessage
	Hook    HookPayload
}

// DecodeTransfer decodes all three layers of a burn-with-hook message
func DecodeTransfer(raw []byte) (*Transfer, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	burn, err := DecodeBurnMessage(msg.Body)
	if err != nil {
		return nil, err
	}
	if err := burn.ValidateFee(); err != nil {
		return nil, err
	}
	hook, err := DecodeHookPayload(burn.HookData)
	if err != nil {
		return nil, err
	}
	return &Transfer{Message: msg, Burn: burn, Hook: hook}, nil
}

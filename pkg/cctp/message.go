// Package cctp decodes Circle CCTP V2 messages delivered to the relay path.
//
// A message is a fixed 148 byte header followed by a body. For token transfers the body is a burn
// message, whose trailing hook data carries the payload binding the burn to a signed intent.
package cctp

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
)

// Header field offsets of a MessageV2
const (
	versionIndex                   = 0
	sourceDomainIndex              = 4
	destinationDomainIndex         = 8
	nonceIndex                     = 12
	senderIndex                    = 44
	recipientIndex                 = 76
	destinationCallerIndex         = 108
	minFinalityThresholdIndex      = 140
	finalityThresholdExecutedIndex = 144
	messageBodyIndex               = 148
)

// MessageVersion is the only header version accepted
const MessageVersion uint32 = 1

// Message is a decoded CCTP V2 message header and its opaque body
type Message struct {
	Version                   uint32
	SourceDomain              uint32
	DestinationDomain         uint32
	Nonce                     common.Hash
	Sender                    common.Hash
	Recipient                 common.Hash
	DestinationCaller         common.Hash
	MinFinalityThreshold      uint32
	FinalityThresholdExecuted uint32
	Body                      []byte
}

// ID returns the unique message identifier used as the relay ledger key
func (m *Message) ID() common.Hash {
	return m.Nonce
}

// DecodeMessage parses raw message bytes
func DecodeMessage(raw []byte) (*Message, error) {
	if len(raw) < messageBodyIndex {
		return nil, fmt.Errorf("%w: message is %d bytes, header needs %d", intent.ErrMalformedPayload, len(raw), messageBodyIndex)
	}

	m := &Message{
		Version:                   binary.BigEndian.Uint32(raw[versionIndex:]),
		SourceDomain:              binary.BigEndian.Uint32(raw[sourceDomainIndex:]),
		DestinationDomain:         binary.BigEndian.Uint32(raw[destinationDomainIndex:]),
		Nonce:                     common.BytesToHash(raw[nonceIndex:senderIndex]),
		Sender:                    common.BytesToHash(raw[senderIndex:recipientIndex]),
		Recipient:                 common.BytesToHash(raw[recipientIndex:destinationCallerIndex]),
		DestinationCaller:         common.BytesToHash(raw[destinationCallerIndex:minFinalityThresholdIndex]),
		MinFinalityThreshold:      binary.BigEndian.Uint32(raw[minFinalityThresholdIndex:]),
		FinalityThresholdExecuted: binary.BigEndian.Uint32(raw[finalityThresholdExecutedIndex:]),
		Body:                      common.CopyBytes(raw[messageBodyIndex:]),
	}
	if m.Version != MessageVersion {
		return nil, fmt.Errorf("%w: unsupported message version %d", intent.ErrMalformedPayload, m.Version)
	}
	return m, nil
}

// Encode serializes the message back to its wire form
func (m *Message) Encode() []byte {
	out := make([]byte, messageBodyIndex+len(m.Body))
	binary.BigEndian.PutUint32(out[versionIndex:], m.Version)
	binary.BigEndian.PutUint32(out[sourceDomainIndex:], m.SourceDomain)
	binary.BigEndian.PutUint32(out[destinationDomainIndex:], m.DestinationDomain)
	copy(out[nonceIndex:], m.Nonce[:])
	copy(out[senderIndex:], m.Sender[:])
	copy(out[recipientIndex:], m.Recipient[:])
	copy(out[destinationCallerIndex:], m.DestinationCaller[:])
	binary.BigEndian.PutUint32(out[minFinalityThresholdIndex:], m.MinFinalityThreshold)
	binary.BigEndian.PutUint32(out[finalityThresholdExecutedIndex:], m.FinalityThresholdExecuted)
	copy(out[messageBodyIndex:], m.Body)
	return out
}

// AddressFromBytes32 converts a left-padded bytes32 to an EVM address. It fails when the upper
// 12 bytes are not zero, which is the case for non-EVM (e.g. Solana) recipients.
func AddressFromBytes32(h common.Hash) (common.Address, bool) {
	for _, b := range h[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, false
		}
	}
	return common.BytesToAddress(h[common.HashLength-common.AddressLength:]), true
}

// AddressToBytes32 left-pads an EVM address to bytes32
func AddressToBytes32(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

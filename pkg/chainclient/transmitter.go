package chainclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/cctp"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/speedrun-hq/speedrun-settler/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

// MessageTransmitter submits attested CCTP messages to MessageTransmitterV2 on the local domain
type MessageTransmitter struct {
	client   *Client
	address  common.Address
	contract *contracts.MessageTransmitter
	domain   uint32
	gasLimit uint64
	logger   logger.Logger
}

var _ asset.Transmitter = (*MessageTransmitter)(nil)

// NewMessageTransmitter binds the transmitter deployed at address on localDomain
func NewMessageTransmitter(client *Client, address common.Address, localDomain uint32) (*MessageTransmitter, error) {
	contract, err := contracts.NewMessageTransmitter(address, client.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to bind message transmitter %s: %v", address.Hex(), err)
	}
	return &MessageTransmitter{
		client:   client,
		address:  address,
		contract: contract,
		domain:   localDomain,
		gasLimit: chains.GasLimit(localDomain),
		logger:   client.logger,
	}, nil
}

// IsNonceUsed reports whether the transmitter already received the message with nonce
func (m *MessageTransmitter) IsNonceUsed(ctx context.Context, nonce common.Hash) (bool, error) {
	used, err := m.contract.UsedNonces(&bind.CallOpts{Context: ctx}, nonce)
	if err != nil {
		return false, fmt.Errorf("failed to read usedNonces(%s): %v", nonce.Hex(), err)
	}
	return used.Sign() != 0, nil
}

func (m *MessageTransmitter) ReceiveMessage(ctx context.Context, message []byte, attestation []byte) error {
	msg, err := cctp.DecodeMessage(message)
	if err != nil {
		return err
	}

	used, err := m.IsNonceUsed(ctx, msg.Nonce)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", asset.ErrMessageAlreadyReceived, msg.Nonce.Hex())
	}

	receipt, err := m.client.send(ctx, m.gasLimit, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return m.contract.ReceiveMessage(opts, message, attestation)
	})
	if err != nil {
		return fmt.Errorf("receiveMessage %s: %w", msg.Nonce.Hex(), err)
	}

	m.logger.InfoWithDomain(msg.SourceDomain, "Received message %s in %s (gas used %d)",
		msg.Nonce.Hex(), receipt.TxHash.Hex(), receipt.GasUsed)
	return nil
}

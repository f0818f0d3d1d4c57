package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MessageTransmitterV2ABI is the subset of Circle's MessageTransmitterV2 used on the relay path
const MessageTransmitterV2ABI = `[
	{
		"inputs": [
			{"internalType": "bytes", "name": "message", "type": "bytes"},
			{"internalType": "bytes", "name": "attestation", "type": "bytes"}
		],
		"name": "receiveMessage",
		"outputs": [{"internalType": "bool", "name": "success", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"name": "usedNonces",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "localDomain",
		"outputs": [{"internalType": "uint32", "name": "", "type": "uint32"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// MessageTransmitter is a binding around a deployed MessageTransmitterV2.
type MessageTransmitter struct {
	MessageTransmitterCaller
	MessageTransmitterTransactor
}

// MessageTransmitterCaller is a read-only binding to MessageTransmitterV2.
type MessageTransmitterCaller struct {
	contract *bind.BoundContract
}

// MessageTransmitterTransactor is a write-only binding to MessageTransmitterV2.
type MessageTransmitterTransactor struct {
	contract *bind.BoundContract
}

// NewMessageTransmitter creates a new instance of MessageTransmitter, bound to a specific deployed contract.
func NewMessageTransmitter(address common.Address, backend bind.ContractBackend) (*MessageTransmitter, error) {
	contract, err := bindContract(MessageTransmitterV2ABI, address, backend, backend, backend)
	if err != nil {
		return nil, err
	}
	return &MessageTransmitter{
		MessageTransmitterCaller:     MessageTransmitterCaller{contract: contract},
		MessageTransmitterTransactor: MessageTransmitterTransactor{contract: contract},
	}, nil
}

// UsedNonces is a free data retrieval call binding the contract method 0xfeb61724.
//
// Solidity: function usedNonces(bytes32) view returns(uint256)
func (_MessageTransmitter *MessageTransmitterCaller) UsedNonces(opts *bind.CallOpts, nonce [32]byte) (*big.Int, error) {
	var out []interface{}
	err := _MessageTransmitter.contract.Call(opts, &out, "usedNonces", nonce)
	if err != nil {
		return *new(*big.Int), err
	}

	out0 := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return out0, err
}

// LocalDomain is a free data retrieval call binding the contract method 0x8d3638f4.
//
// Solidity: function localDomain() view returns(uint32)
func (_MessageTransmitter *MessageTransmitterCaller) LocalDomain(opts *bind.CallOpts) (uint32, error) {
	var out []interface{}
	err := _MessageTransmitter.contract.Call(opts, &out, "localDomain")
	if err != nil {
		return *new(uint32), err
	}

	out0 := *abi.ConvertType(out[0], new(uint32)).(*uint32)
	return out0, err
}

// ReceiveMessage is a paid mutator transaction binding the contract method 0x57ecfd28.
//
// Solidity: function receiveMessage(bytes message, bytes attestation) returns(bool success)
func (_MessageTransmitter *MessageTransmitterTransactor) ReceiveMessage(opts *bind.TransactOpts, message []byte, attestation []byte) (*types.Transaction, error) {
	return _MessageTransmitter.contract.Transact(opts, "receiveMessage", message, attestation)
}

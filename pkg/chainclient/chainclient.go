package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

// DefaultGasMultiplier is applied to the suggested gas price (10% buffer)
const DefaultGasMultiplier = 1.1

// ErrTransactionReverted is returned when a mined transaction has a failed receipt status
var ErrTransactionReverted = errors.New("transaction reverted")

// Client contains client and signing information for the settlement chain
type Client struct {
	ChainID       *big.Int
	RPCURL        string
	Client        *ethclient.Client
	Auth          *bind.TransactOpts
	GasMultiplier float64

	nonces *NonceManager
	logger logger.Logger

	// sendMu serializes nonce allocation and submission
	sendMu sync.Mutex
	mu     sync.RWMutex

	CurrentGasPrice *big.Int
}

// New creates a new client connected to rpcURL. privateKey may be empty for a read-only client.
func New(ctx context.Context, rpcURL string, privateKey string, gasMultiplier float64, log logger.Logger) (*Client, error) {
	if gasMultiplier <= 0 {
		gasMultiplier = DefaultGasMultiplier
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	client := &Client{
		RPCURL:        rpcURL,
		GasMultiplier: gasMultiplier,
		nonces:        NewNonceManager(log),
		logger:        log,
	}
	if err := client.connect(ctx, privateKey); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", rpcURL, err)
	}

	return client, nil
}

// Address is the account transactions are signed with
func (c *Client) Address() common.Address {
	if c.Auth == nil {
		return common.Address{}
	}
	return c.Auth.From
}

// GasPrice returns the last gas price computed by UpdateGasPrice
func (c *Client) GasPrice() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.CurrentGasPrice == nil {
		return nil
	}
	return new(big.Int).Set(c.CurrentGasPrice)
}

// UpdateGasPrice updates the gas price based on current network conditions
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	finalGasPrice := applyMultiplier(gasPrice, c.GasMultiplier)

	c.mu.Lock()
	c.CurrentGasPrice = finalGasPrice
	c.mu.Unlock()

	return finalGasPrice, nil
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.Client == nil {
		return 0, fmt.Errorf("client not connected")
	}

	return c.Client.BlockNumber(ctx)
}

// SetTransactionTimeout sets how long a sent transaction may stay unmined before recovery
// abandons it
func (c *Client) SetTransactionTimeout(timeout time.Duration) {
	c.nonces.SetTransactionTimeout(timeout)
}

// RecoverTransactions releases the nonces of transactions that timed out and resyncs with the
// node. It returns how many transactions were abandoned.
func (c *Client) RecoverTransactions(ctx context.Context) (int, error) {
	if c.Auth == nil {
		return 0, nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.nonces.SyncWithBlockchain(ctx, c.Client, c.Auth.From); err != nil {
		return 0, fmt.Errorf("failed to sync nonce state: %w", err)
	}

	timedOut := c.nonces.FindTimeoutTransactions()
	if len(timedOut) == 0 {
		return 0, nil
	}

	// highest first so every released nonce can rewind past the ones above it
	sort.Slice(timedOut, func(i, j int) bool { return timedOut[i] > timedOut[j] })
	for _, nonce := range timedOut {
		c.logger.Notice("Recovering from timed out transaction with nonce %d", nonce)
		c.nonces.ReuseNonce(nonce)
	}

	if err := c.nonces.SyncWithBlockchain(ctx, c.Client, c.Auth.From); err != nil {
		return len(timedOut), fmt.Errorf("failed to re-sync nonce state after recovery: %w", err)
	}
	return len(timedOut), nil
}

// send submits one transaction built by build and waits until it is mined
func (c *Client) send(ctx context.Context, gasLimit uint64, build func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	if c.Auth == nil {
		return nil, fmt.Errorf("client has no signing key")
	}

	c.sendMu.Lock()
	nonce, err := c.nonces.GetNonce(ctx, c.Client, c.Auth.From)
	if err != nil {
		c.sendMu.Unlock()
		return nil, err
	}

	opts := &bind.TransactOpts{
		From:     c.Auth.From,
		Signer:   c.Auth.Signer,
		Nonce:    new(big.Int).SetUint64(nonce),
		GasPrice: c.GasPrice(),
		GasLimit: gasLimit,
		Context:  ctx,
	}

	tx, err := build(opts)
	if err != nil {
		c.nonces.ReuseNonce(nonce)
		c.sendMu.Unlock()
		return nil, err
	}
	c.nonces.TrackTransaction(tx.Hash(), nonce)
	c.sendMu.Unlock()

	receipt, err := bind.WaitMined(ctx, c.Client, tx)
	if err != nil {
		c.nonces.MarkTransactionFailed(nonce)
		return nil, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}
	c.nonces.MarkTransactionConfirmed(nonce)

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

// connect establishes the RPC connection and the transaction signer
func (c *Client) connect(ctx context.Context, privateKey string) error {
	client, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	c.Client = client

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %v", err)
	}
	c.ChainID = chainID

	if privateKey != "" {
		key, err := parsePrivateKey(privateKey)
		if err != nil {
			return err
		}
		auth, err := createAuthenticator(key, chainID)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %v", err)
		}
		c.Auth = auth
	}

	return nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	return key, nil
}

// Helper function to create authenticator
func createAuthenticator(privateKey *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	return auth, nil
}

// applyMultiplier scales gasPrice by multiplier, rounding down to whole wei
func applyMultiplier(gasPrice *big.Int, multiplier float64) *big.Int {
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(multiplier),
	)

	result := new(big.Int)
	multiplied.Int(result)
	return result
}

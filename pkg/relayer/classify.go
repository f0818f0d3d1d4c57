package relayer

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/irisclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

const (
	errorAttestationPending = "attestation_pending"
	errorAlreadyProcessed   = "already_processed"
	errorNetwork            = "network_error"
	errorNodeState          = "node_state_error"
	errorGas                = "gas_error"
	errorNonce              = "nonce_error"
	errorInsufficientFunds  = "insufficient_balance"
	errorContract           = "contract_error"
	errorTransfer           = "transfer_error"
	errorConfiguration      = "configuration_error"
	errorUnknown            = "unknown_error"
)

// ClassifyError decides whether a failed relay attempt should be retried
// Returns (shouldRetry, errorType)
func ClassifyError(err error) (bool, string) {
	// typed errors first, message matching is only for errors from the RPC node
	switch {
	case errors.Is(err, irisclient.ErrAttestationPending), errors.Is(err, irisclient.ErrNotFound):
		return true, errorAttestationPending
	case errors.Is(err, intent.ErrAlreadyRelayed), errors.Is(err, asset.ErrMessageAlreadyReceived):
		return false, errorAlreadyProcessed
	case errors.Is(err, settlement.ErrNoTransmitter):
		return false, errorConfiguration
	case errors.Is(err, intent.ErrReentrantRedemption):
		return true, string(intent.ReasonReentrantRedemption)
	case errors.Is(err, intent.ErrTransferFailed):
		return true, errorTransfer
	case intent.IsRejection(err):
		return false, string(intent.Reason(err))
	}

	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, errorNetwork
	}

	// RPC node state errors
	if strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "receipt not found") ||
		strings.Contains(errStr, "block not found") {
		return true, errorNodeState
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return true, errorGas
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, errorNonce
	}

	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, errorInsufficientFunds
	}

	// a reverted receiveMessage usually means a bad attestation or an already used nonce
	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "transaction reverted") {
		return false, errorContract
	}

	return true, errorUnknown
}

// CalculateBackoff calculates the backoff duration for retry attempts
func CalculateBackoff(retryCount int) time.Duration {
	maxBackoff := 2 * time.Minute
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 10 {
		return maxBackoff
	}

	// Calculate exponential backoff (2^retry * 10 seconds)
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * 10 * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

package relayer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/irisclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetry     bool
		wantErrorType string
	}{
		{"attestation pending", fmt.Errorf("poll: %w", irisclient.ErrAttestationPending), true, errorAttestationPending},
		{"burn not indexed yet", irisclient.ErrNotFound, true, errorAttestationPending},
		{"already relayed here", fmt.Errorf("%w: message 0x01", intent.ErrAlreadyRelayed), false, errorAlreadyProcessed},
		{"received elsewhere", fmt.Errorf("receive: %w", asset.ErrMessageAlreadyReceived), false, errorAlreadyProcessed},
		{"relay disabled", settlement.ErrNoTransmitter, false, errorConfiguration},
		{"reentrant", intent.ErrReentrantRedemption, true, "reentrant_redemption"},
		{"transfer failed", fmt.Errorf("%w: rpc", intent.ErrTransferFailed), true, errorTransfer},
		{"bad signature", fmt.Errorf("%w: recovered 0x1", intent.ErrInvalidSignature), false, "invalid_signature"},
		{"amount mismatch", intent.ErrAmountMismatch, false, "amount_mismatch"},
		{"connection refused", errors.New("dial tcp: connection refused"), true, errorNetwork},
		{"deadline", context.DeadlineExceeded, true, errorNetwork},
		{"node state", errors.New("missing trie node abc"), true, errorNodeState},
		{"gas", errors.New("gas price too low"), true, errorGas},
		{"nonce", errors.New("nonce too low"), true, errorNonce},
		{"out of funds", errors.New("insufficient funds for transfer"), false, errorInsufficientFunds},
		{"reverted", errors.New("execution reverted: Invalid attestation"), false, errorContract},
		{"unknown", errors.New("something odd"), true, errorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, errorType := ClassifyError(tt.err)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantErrorType, errorType)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{4, 2 * time.Minute},
		{100, 2 * time.Minute},
		{-1, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("retry %d", tt.retryCount), func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateBackoff(tt.retryCount))
		})
	}
}

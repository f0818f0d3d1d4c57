package settlement

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFailedRelay(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		p := h.intent()
		msg := h.relayFor(p, 1, 10000)

		out, err := h.relay(msg, p, make([]byte, 65))
		require.NoError(t, err)
		require.Equal(t, StatusFailed, out.Status)

		_, err = h.engine.ResolveFailedRelay(h.ctx, payer, msg.id(), h.merchant)
		require.ErrorIs(t, err, intent.ErrUnauthorizedCaller)

		event, err := h.engine.ResolveFailedRelay(h.ctx, recoverer, msg.id(), h.merchant)
		require.NoError(t, err)
		require.NotNil(t, event.RecoveryExecuted)
		assert.Equal(t, "99990000", event.RecoveryExecuted.Amount.String())
		require.NotNil(t, event.RecoveryExecuted.MessageID)
		assert.Equal(t, msg.id(), *event.RecoveryExecuted.MessageID)

		assert.Equal(t, "0", h.balance(custody))
		assert.Equal(t, "99990000", h.balance(h.merchant))

		failed, err := h.store.FailedRelay(h.ctx, msg.id())
		require.NoError(t, err)
		assert.True(t, failed.Resolved)

		_, err = h.engine.ResolveFailedRelay(h.ctx, recoverer, msg.id(), h.merchant)
		require.ErrorIs(t, err, intent.ErrAlreadyResolved)
		assert.Equal(t, "99990000", h.balance(h.merchant), "paid out once")

		assert.Len(t, h.events(ledger.EventFilter{Type: ledger.EventRecoveryExecuted}), 1)
	})
}

func TestResolveFailedRelay_Unknown(t *testing.T) {
	h := newHarness(t, ledger.NewMemoryStore())
	_, err := h.engine.ResolveFailedRelay(h.ctx, recoverer, common.HexToHash("0x404"), h.merchant)
	require.ErrorIs(t, err, intent.ErrNotFound)
}

func TestRescueFunds(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		h.fund(custody, 5_000000)
		to := common.HexToAddress("0x7070")

		_, err := h.engine.RescueFunds(h.ctx, payer, usdc, to, big.NewInt(1_000000))
		require.ErrorIs(t, err, intent.ErrUnauthorizedCaller)

		_, err = h.engine.RescueFunds(h.ctx, recoverer, usdc, to, big.NewInt(0))
		require.ErrorIs(t, err, intent.ErrMalformedPayload)

		_, err = h.engine.RescueFunds(h.ctx, recoverer, usdc, to, big.NewInt(6_000000))
		require.ErrorIs(t, err, intent.ErrTransferFailed)
		assert.Empty(t, h.events(ledger.EventFilter{}))

		event, err := h.engine.RescueFunds(h.ctx, recoverer, usdc, to, big.NewInt(2_000000))
		require.NoError(t, err)
		assert.Equal(t, ledger.EventRecoveryExecuted, event.Type)
		assert.Equal(t, recoverer, event.RecoveryExecuted.Caller)
		assert.Nil(t, event.RecoveryExecuted.MessageID)

		assert.Equal(t, "3000000", h.balance(custody))
		assert.Equal(t, "2000000", h.balance(to))
		assert.Len(t, h.events(ledger.EventFilter{Type: ledger.EventRecoveryExecuted}), 1)
	})
}

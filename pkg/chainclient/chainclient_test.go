package chainclient

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMultiplier(t *testing.T) {
	tests := []struct {
		name       string
		gasPrice   int64
		multiplier float64
		want       int64
	}{
		{"default buffer", 20_000_000_000, 1.1, 22_000_000_000},
		{"no buffer", 1_000_000_000, 1.0, 1_000_000_000},
		{"double", 3, 2.0, 6},
		{"rounds down", 3, 1.5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyMultiplier(big.NewInt(tt.gasPrice), tt.multiplier)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestEstimateRelayCost(t *testing.T) {
	tests := []struct {
		name     string
		gasPrice *big.Int
		gasLimit uint64
		want     string
	}{
		{"20 gwei at default limit", big.NewInt(20_000_000_000), 400_000, "0.008"},
		{"1 gwei", big.NewInt(1_000_000_000), 100_000, "0.0001"},
		{"zero gas price", big.NewInt(0), 400_000, "0"},
		{"nil gas price", nil, 400_000, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateRelayCost(tt.gasPrice, tt.gasLimit).String())
		})
	}
}

func TestWeiToGwei(t *testing.T) {
	assert.Equal(t, "22", weiToGwei(big.NewInt(22_000_000_000)).String())
	assert.Equal(t, "0.5", weiToGwei(big.NewInt(500_000_000)).String())
	assert.True(t, weiToGwei(nil).IsZero())
}

type fakeToken struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	err        error
}

func (f *fakeToken) BalanceOf(_ *bind.CallOpts, account common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[account]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *fakeToken) Allowance(_ *bind.CallOpts, owner common.Address, _ common.Address) (*big.Int, error) {
	if a, ok := f.allowances[owner]; ok {
		return a, nil
	}
	return new(big.Int), nil
}

func TestCheckFunds(t *testing.T) {
	ctx := context.Background()
	self := common.HexToAddress("0x5e1f")
	payer := common.HexToAddress("0xba7e")

	token := &fakeToken{
		balances: map[common.Address]*big.Int{
			self:  big.NewInt(100),
			payer: big.NewInt(100),
		},
		allowances: map[common.Address]*big.Int{
			payer: big.NewInt(50),
		},
	}

	tests := []struct {
		name    string
		from    common.Address
		total   int64
		wantErr error
	}{
		{"own balance covers total", self, 100, nil},
		{"own balance short", self, 101, asset.ErrInsufficientBalance},
		{"allowance covers total", payer, 50, nil},
		{"allowance short", payer, 51, asset.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFunds(ctx, token, tt.from, self, big.NewInt(tt.total))
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("read failure", func(t *testing.T) {
		broken := &fakeToken{err: errors.New("rpc down")}
		err := checkFunds(ctx, broken, self, self, big.NewInt(1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asset.ErrInsufficientBalance)
	})
}

// fakeAccessControl answers hasRole calls from a member set
type fakeAccessControl struct {
	members map[common.Hash]map[common.Address]bool
}

func (f *fakeAccessControl) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeAccessControl) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	// hasRole(bytes32,address): selector, role, left-padded account
	if len(call.Data) != 4+64 {
		return nil, errors.New("unexpected calldata")
	}
	role := common.BytesToHash(call.Data[4:36])
	account := common.BytesToAddress(call.Data[36:68])

	out := make([]byte, 32)
	if f.members[role][account] {
		out[31] = 1
	}
	return out, nil
}

func TestRoleRegistry(t *testing.T) {
	ctx := context.Background()
	relayer := common.HexToAddress("0x4e1a")

	backend := &fakeAccessControl{members: map[common.Hash]map[common.Address]bool{
		common.Hash(roles.Relayer): {relayer: true},
	}}
	registry, err := NewRoleRegistry(common.HexToAddress("0xacc"), backend)
	require.NoError(t, err)

	ok, err := registry.HasRole(ctx, roles.Relayer, relayer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = registry.HasRole(ctx, roles.Operator, relayer)
	require.NoError(t, err)
	assert.False(t, ok)

	// revocation is visible on the next call
	backend.members[common.Hash(roles.Relayer)][relayer] = false
	ok, err = registry.HasRole(ctx, roles.Relayer, relayer)
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeNonceSource struct {
	nonce uint64
	calls int
	err   error
}

func (f *fakeNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func TestNonceManager(t *testing.T) {
	ctx := context.Background()
	account := common.HexToAddress("0x5e1f")

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	nm := NewNonceManager(nil)
	nm.now = func() time.Time { return now }

	source := &fakeNonceSource{nonce: 7}

	n, err := nm.GetNonce(ctx, source, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	n, err = nm.GetNonce(ctx, source, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n, "allocated locally without a sync")
	assert.Equal(t, 1, source.calls)

	nm.TrackTransaction(common.HexToHash("0x07"), 7)
	nm.TrackTransaction(common.HexToHash("0x08"), 8)
	assert.Equal(t, 2, nm.GetPendingTransactionsCount())

	// a failure above the lowest pending nonce does not rewind
	_, reused := nm.MarkTransactionFailed(8)
	assert.False(t, reused)

	// the lowest pending nonce is handed out again after a failure
	reusedNonce, reused := nm.MarkTransactionFailed(7)
	assert.True(t, reused)
	assert.Equal(t, uint64(7), reusedNonce)

	n, err = nm.GetNonce(ctx, source, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	nm.TrackTransaction(common.HexToHash("0x77"), 7)
	assert.True(t, nm.MarkTransactionConfirmed(7))
	assert.False(t, nm.MarkTransactionConfirmed(7), "already confirmed")

	// node moved ahead, for example after a transaction sent elsewhere
	now = now.Add(nonceSyncInterval + time.Second)
	source.nonce = 20
	n, err = nm.GetNonce(ctx, source, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), n)
	assert.Equal(t, 2, source.calls)
}

func TestNonceManager_ReuseNonce(t *testing.T) {
	ctx := context.Background()
	nm := NewNonceManager(nil)
	source := &fakeNonceSource{nonce: 3}

	n, err := nm.GetNonce(ctx, source, common.Address{})
	require.NoError(t, err)
	nm.ReuseNonce(n)

	again, err := nm.GetNonce(ctx, source, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, n, again, "a nonce never broadcast is reused")
}

func TestNonceManager_Timeouts(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	nm := NewNonceManager(nil)
	nm.now = func() time.Time { return now }
	nm.SetTransactionTimeout(time.Minute)

	nm.TrackTransaction(common.HexToHash("0x01"), 1)
	assert.Empty(t, nm.FindTimeoutTransactions())

	now = now.Add(2 * time.Minute)
	nm.TrackTransaction(common.HexToHash("0x02"), 2)
	assert.Equal(t, []uint64{1}, nm.FindTimeoutTransactions())
	assert.Empty(t, nm.FindTimeoutTransactions(), "reported once")
}

func TestNonceManager_SyncError(t *testing.T) {
	nm := NewNonceManager(nil)
	_, err := nm.GetNonce(context.Background(), &fakeNonceSource{err: errors.New("rpc down")}, common.Address{})
	require.Error(t, err)
}

type fakeGasUpdater struct {
	calls chan struct{}
}

func (f *fakeGasUpdater) UpdateGasPrice(context.Context) (*big.Int, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return big.NewInt(22_000_000_000), nil
}

func TestGasPriceRoutine_StartStop(t *testing.T) {
	updater := &fakeGasUpdater{calls: make(chan struct{}, 1)}
	r := &GasPriceRoutine{
		ctx:      context.Background(),
		client:   updater,
		gasLimit: 400_000,
		interval: time.Hour,
		logger:   &logger.EmptyLogger{},
	}

	r.Start()
	r.Start()
	assert.True(t, r.IsRunning())

	select {
	case <-updater.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("initial update did not run")
	}

	r.Stop()
	r.Stop()
	assert.False(t, r.IsRunning())
}

package chainclient

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
)

// gasPriceUpdater is the part of Client the routine drives
type gasPriceUpdater interface {
	UpdateGasPrice(ctx context.Context) (*big.Int, error)
}

// GasPriceRoutine periodically refreshes the gas price used for settlement and relay transactions
type GasPriceRoutine struct {
	ctx      context.Context
	client   gasPriceUpdater
	gasLimit uint64
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
	logger   logger.Logger
}

// NewGasPriceRoutine creates a routine refreshing client's gas price every interval. gasLimit is
// the receiveMessage limit used to log the expected relay cost.
func NewGasPriceRoutine(ctx context.Context, client *Client, gasLimit uint64, interval time.Duration) *GasPriceRoutine {
	return &GasPriceRoutine{
		ctx:      ctx,
		client:   client,
		gasLimit: gasLimit,
		interval: interval,
		logger:   client.logger,
	}
}

// Start begins the periodic updates
func (r *GasPriceRoutine) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(r.stopChan)
}

// Stop halts the periodic updates
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *GasPriceRoutine) run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.update()

	for {
		select {
		case <-ticker.C:
			r.update()
		case <-stop:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// update performs a single gas price refresh
func (r *GasPriceRoutine) update() {
	gasPrice, err := r.client.UpdateGasPrice(r.ctx)
	if err != nil {
		r.logger.Error("Failed to update gas price: %v", err)
		return
	}

	gwei, _ := weiToGwei(gasPrice).Float64()
	metrics.GasPrice.Set(gwei)
	r.logger.Debug("Gas price %s gwei, receiveMessage costs up to %s native",
		weiToGwei(gasPrice).String(), estimateRelayCost(gasPrice, r.gasLimit).String())
}

func weiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

// estimateRelayCost returns gasPrice * gasLimit in native token units
func estimateRelayCost(gasPrice *big.Int, gasLimit uint64) decimal.Decimal {
	if gasPrice == nil {
		return decimal.Zero
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return decimal.NewFromBigInt(cost, -18)
}

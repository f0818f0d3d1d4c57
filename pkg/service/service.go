// Package service assembles the settler from configuration: ledger store, role registry, asset
// collaborators, settlement engine, relay workers and the HTTP API.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/api"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/auth"
	"github.com/speedrun-hq/speedrun-settler/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/speedrun-hq/speedrun-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settler/pkg/config"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/irisclient"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settler/pkg/relayer"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

const (
	// gasPriceInterval is how often the gas price is refreshed
	gasPriceInterval = 30 * time.Second
	// recoveryInterval is how often stuck transactions are looked for
	recoveryInterval = 30 * time.Minute
	// transactionTimeout is how long a transaction may stay unmined
	transactionTimeout = 10 * time.Minute
)

// Service is a fully wired settler
type Service struct {
	config     *config.Config
	logger     logger.Logger
	store      ledger.Store
	registry   roles.Registry
	engine     *settlement.Engine
	breaker    *circuitbreaker.CircuitBreaker
	relayer    *relayer.Service
	client     *chainclient.Client
	gasRoutine *chainclient.GasPriceRoutine
	server     *api.Server
}

// NewService creates a new settler service
func NewService(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config: cfg,
		logger: log,
		store:  store,
	}
	if err := s.wire(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) wire(ctx context.Context) error {
	cfg := s.config

	hasher, err := intent.NewHasher(cfg.ChainID, cfg.VerifyingContract)
	if err != nil {
		return err
	}

	var (
		transfers   asset.Transferer
		transmitter asset.Transmitter
		chain       api.ChainStatus
	)
	if cfg.OnChain() {
		client, err := chainclient.New(ctx, cfg.RPCURL, cfg.PrivateKey, cfg.GasMultiplier, s.logger)
		if err != nil {
			return err
		}
		if client.ChainID.Cmp(cfg.ChainID) != 0 {
			return fmt.Errorf("RPC_URL serves chain %s, configured chain is %s", client.ChainID, cfg.ChainID)
		}
		client.SetTransactionTimeout(transactionTimeout)
		s.client = client
		chain = client

		onChainTransmitter, err := chainclient.NewMessageTransmitter(client, cfg.MessageTransmitterAddress, cfg.LocalDomain)
		if err != nil {
			return err
		}
		transfers = chainclient.NewERC20Transferer(client)
		transmitter = onChainTransmitter
		s.gasRoutine = chainclient.NewGasPriceRoutine(ctx, client, chains.GasLimit(cfg.LocalDomain), gasPriceInterval)
		s.logger.Info("Settling on chain %s (%s) as %s", cfg.ChainID, config.GetChainName(cfg.ChainID.Int64()), client.Address().Hex())
	} else {
		bank := asset.NewMemoryBank()
		transfers = bank
		transmitter = asset.NewMemoryTransmitter(bank, cfg.SettlementAsset)
		s.logger.Notice("RPC_URL not set, settling against an in-memory bank")
	}

	s.registry, err = s.newRegistry()
	if err != nil {
		return err
	}

	s.breaker = circuitbreaker.NewCircuitBreaker(
		"transfers",
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		circuitbreaker.WithLogger(s.logger),
		circuitbreaker.WithTripHook(func(name string) {
			metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
		}),
	)

	s.engine = settlement.NewEngine(
		settlement.Config{
			Asset:         cfg.SettlementAsset,
			Custody:       cfg.CustodyAddress,
			Router:        cfg.SwapRouter,
			LocalDomain:   cfg.LocalDomain,
			AssetDecimals: cfg.AssetDecimals,
		},
		s.store,
		hasher,
		auth.NewAuthorizer(s.registry, auth.WithLowS(cfg.EnforceLowS)),
		s.registry,
		transfers,
		settlement.WithLogger(s.logger),
		settlement.WithCircuitBreaker(s.breaker),
		settlement.WithTransmitter(transmitter),
	)

	opts := []api.Option{
		api.WithCircuitBreaker(s.breaker),
		api.WithAPIKey(cfg.APIKey),
		api.WithMetricsAPIKey(cfg.MetricsAPIKey),
		api.WithLogger(s.logger),
	}
	if chain != nil {
		opts = append(opts, api.WithChain(chain))
	}
	for key, account := range cfg.APICredentials {
		opts = append(opts, api.WithCredential(key, account))
	}
	if len(cfg.APICredentials) == 0 {
		s.logger.Notice("No API_CREDENTIALS configured, settlement and recovery endpoints are closed")
	}

	if caller, ok := s.relayCaller(); ok {
		s.relayer = relayer.NewService(relayer.Config{
			Caller:     caller,
			Workers:    cfg.WorkerCount,
			MaxRetries: cfg.MaxRetries,
			RetryTick:  cfg.PollingInterval,
		}, irisclient.New(cfg.IrisAPIEndpoint, s.logger), s.engine, s.logger)
		opts = append(opts, api.WithJobQueue(s.relayer))
		s.checkRelayer(ctx, caller)
	} else {
		s.logger.Notice("No relayer account configured, relay jobs are disabled")
	}

	s.server = api.NewServer(cfg.APIPort, s.engine, opts...)
	return nil
}

// newRegistry returns the on-chain registry when one is configured, otherwise a memory registry
// seeded from configuration
func (s *Service) newRegistry() (roles.Registry, error) {
	cfg := s.config
	if cfg.RoleRegistryAddress != (common.Address{}) {
		s.logger.Info("Reading roles from AccessControl contract %s", cfg.RoleRegistryAddress.Hex())
		return chainclient.NewRoleRegistry(cfg.RoleRegistryAddress, s.client.Client)
	}

	registry := roles.NewMemoryRegistry()
	registry.Grant(roles.Operator, cfg.Roles.Operators...)
	registry.Grant(roles.Relayer, cfg.Roles.Relayers...)
	registry.Grant(roles.Recovery, cfg.Roles.Recovery...)
	s.logger.Info("Seeded role registry: %d operators, %d relayers, %d recovery accounts",
		len(cfg.Roles.Operators), len(cfg.Roles.Relayers), len(cfg.Roles.Recovery))
	return registry, nil
}

// relayCaller is the account relay jobs are submitted as: the signing account on chain, otherwise
// the first configured relayer
func (s *Service) relayCaller() (common.Address, bool) {
	if s.client != nil {
		return s.client.Address(), true
	}
	if len(s.config.Roles.Relayers) > 0 {
		return s.config.Roles.Relayers[0], true
	}
	return common.Address{}, false
}

func (s *Service) checkRelayer(ctx context.Context, caller common.Address) {
	ok, err := s.registry.HasRole(ctx, roles.Relayer, caller)
	switch {
	case err != nil:
		s.logger.Error("Failed to check %s for %s: %v", roles.Relayer, caller.Hex(), err)
	case !ok:
		s.logger.Error("Relay account %s lacks %s, relay jobs will be rejected", caller.Hex(), roles.Relayer)
	}
}

// Engine returns the settlement engine
func (s *Service) Engine() *settlement.Engine {
	return s.engine
}

// Relayer returns the relay job service, nil when relaying is disabled
func (s *Service) Relayer() *relayer.Service {
	return s.relayer
}

// Handler returns the HTTP handler of the API server
func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

// Start runs the settler until ctx is done
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.relayer != nil {
		s.logger.Info("Starting %d relay workers", s.config.WorkerCount)
		s.relayer.Start(ctx)
	}
	if s.gasRoutine != nil {
		s.gasRoutine.Start()
		defer s.gasRoutine.Stop()
	}
	if s.client != nil {
		go s.transactionRecovery(ctx)
	}

	err := s.server.Start(ctx)
	cancel()
	if s.relayer != nil {
		s.relayer.Wait()
	}
	return err
}

// Close releases the ledger store
func (s *Service) Close() error {
	return s.store.Close()
}

// transactionRecovery runs periodically to recover from stuck transactions
func (s *Service) transactionRecovery(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Transaction recovery job shutting down")
			return
		case <-ticker.C:
			recovered, err := s.client.RecoverTransactions(ctx)
			if err != nil {
				s.logger.Error("Transaction recovery failed: %v", err)
				continue
			}
			if recovered > 0 {
				s.logger.Notice("Released %d timed out transactions", recovered)
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return ledger.NewMemoryStore(), nil
	case config.StoreSQLite:
		return ledger.OpenSQLite(cfg.DSN)
	case config.StorePostgres:
		return ledger.OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

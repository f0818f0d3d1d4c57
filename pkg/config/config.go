package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

// Config holds the configuration for the settler service
type Config struct {
	ChainID           *big.Int
	VerifyingContract common.Address
	SettlementAsset   common.Address
	AssetDecimals     int32
	CustodyAddress    common.Address
	SwapRouter        common.Address
	LocalDomain       uint32
	EnforceLowS       bool

	// RPCURL selects the on-chain collaborators. When empty the settler runs against an
	// in-memory bank, useful for local development and tests.
	RPCURL                    string
	PrivateKey                string
	GasMultiplier             float64
	RoleRegistryAddress       common.Address
	MessageTransmitterAddress common.Address

	Store           StoreConfig
	APIPort         string
	APIKey          string
	APICredentials  map[string]common.Address
	MetricsAPIKey   string
	WorkerCount     int
	PollingInterval time.Duration
	MaxRetries      int
	IrisAPIEndpoint string
	CircuitBreaker  CircuitBreakerConfig
	Roles           RoleSeed
	LoggerConfig    LoggerConfig
}

// StoreConfig selects the ledger backend
type StoreConfig struct {
	Driver string
	DSN    string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// RoleSeed lists role members granted at startup when no on-chain registry is configured
type RoleSeed struct {
	Operators []common.Address
	Relayers  []common.Address
	Recovery  []common.Address
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// OnChain reports whether the settler moves funds through an RPC node
func (c *Config) OnChain() bool {
	return c.RPCURL != ""
}

// LoadConfig loads the configuration from dotenv files (.env when none are given) and
// environment variables
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Printf("Warning: %v, using environment variables", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment
func FromEnv() (*Config, error) {
	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	verifyingContract, err := GetEnvAddress("VERIFYING_CONTRACT", common.Address{})
	if err != nil {
		return nil, err
	}

	var defaultAsset common.Address
	if chainID.IsInt64() && GetUSDCAddress(chainID.Int64()) != "" {
		defaultAsset = common.HexToAddress(GetUSDCAddress(chainID.Int64()))
	}
	settlementAsset, err := GetEnvAddress("SETTLEMENT_ASSET", defaultAsset)
	if err != nil {
		return nil, err
	}

	assetDecimals, err := GetEnvAssetDecimals()
	if err != nil {
		return nil, err
	}

	// funds are held by the verifying contract unless a separate custody account is named
	custody, err := GetEnvAddress("CUSTODY_ADDRESS", verifyingContract)
	if err != nil {
		return nil, err
	}

	swapRouter, err := GetEnvAddress("SWAP_ROUTER_ADDRESS", common.Address{})
	if err != nil {
		return nil, err
	}

	localDomain, err := GetEnvLocalDomain(chainID)
	if err != nil {
		return nil, err
	}

	enforceLowS, err := GetEnvBool("ENFORCE_LOW_S", false)
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvURL("RPC_URL", "")
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	roleRegistry, err := GetEnvAddress("ROLE_REGISTRY_ADDRESS", common.Address{})
	if err != nil {
		return nil, err
	}

	transmitter, err := GetEnvAddress("MESSAGE_TRANSMITTER_ADDRESS", common.Address{})
	if err != nil {
		return nil, err
	}

	storeDriver, err := GetEnvStoreDriver()
	if err != nil {
		return nil, err
	}

	storeDSN, err := GetEnvStoreDSN(storeDriver)
	if err != nil {
		return nil, err
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	irisEndpoint, err := GetEnvURL("IRIS_API_ENDPOINT", DefaultIrisAPIEndpoint)
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
	if err != nil {
		return nil, err
	}

	credentials, err := GetEnvCredentials("API_CREDENTIALS")
	if err != nil {
		return nil, err
	}

	operators, err := GetEnvAddressList("OPERATORS")
	if err != nil {
		return nil, err
	}

	relayers, err := GetEnvAddressList("RELAYERS")
	if err != nil {
		return nil, err
	}

	recovery, err := GetEnvAddressList("RECOVERY_ACCOUNTS")
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChainID:                   chainID,
		VerifyingContract:         verifyingContract,
		SettlementAsset:           settlementAsset,
		AssetDecimals:             assetDecimals,
		CustodyAddress:            custody,
		SwapRouter:                swapRouter,
		LocalDomain:               localDomain,
		EnforceLowS:               enforceLowS,
		RPCURL:                    rpcURL,
		PrivateKey:                os.Getenv("PRIVATE_KEY"),
		GasMultiplier:             gasMultiplier,
		RoleRegistryAddress:       roleRegistry,
		MessageTransmitterAddress: transmitter,
		Store: StoreConfig{
			Driver: storeDriver,
			DSN:    storeDSN,
		},
		APIPort:         apiPort,
		APIKey:          os.Getenv("API_KEY"),
		APICredentials:  credentials,
		MetricsAPIKey:   os.Getenv("METRICS_API_KEY"),
		WorkerCount:     workerCount,
		PollingInterval: pollingInterval,
		MaxRetries:      maxRetries,
		IrisAPIEndpoint: irisEndpoint,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		Roles: RoleSeed{
			Operators: operators,
			Relayers:  relayers,
			Recovery:  recovery,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("VERIFYING_CONTRACT environment variable is required")
	}
	if cfg.SettlementAsset == (common.Address{}) {
		return fmt.Errorf("SETTLEMENT_ASSET is required for chain %s", cfg.ChainID)
	}
	if cfg.OnChain() {
		if cfg.PrivateKey == "" {
			return fmt.Errorf("PRIVATE_KEY environment variable is required with RPC_URL")
		}
		if cfg.MessageTransmitterAddress == (common.Address{}) {
			return fmt.Errorf("MESSAGE_TRANSMITTER_ADDRESS environment variable is required with RPC_URL")
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("API_KEY environment variable is required with RPC_URL")
		}
	}
	if _, ok := cfg.APICredentials[cfg.APIKey]; ok && cfg.APIKey != "" {
		return fmt.Errorf("API_KEY must differ from every API_CREDENTIALS key")
	}
	if cfg.RoleRegistryAddress != (common.Address{}) && !cfg.OnChain() {
		return fmt.Errorf("ROLE_REGISTRY_ADDRESS requires RPC_URL")
	}
	return nil
}

package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
)

const (
	// DefaultChainID is the chain the settler runs on when CHAIN_ID is unset (Base)
	DefaultChainID = 8453

	// DefaultAssetDecimals is the decimals of the settlement asset (USDC)
	DefaultAssetDecimals = 6

	// DefaultStoreDriver defines the default ledger backend
	DefaultStoreDriver = StoreSQLite

	// DefaultStoreDSN defines the default SQLite database file
	DefaultStoreDSN = "settler.db"

	// DefaultAPIPort defines the default port for the API server
	DefaultAPIPort = "8080"

	// DefaultPollingInterval defines the default attestation polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultWorkerCount defines the default number of relay workers
	DefaultWorkerCount = 5

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultMaxRetries defines the maximum number of retries for failed relay jobs
	DefaultMaxRetries = 10

	// DefaultGasMultiplier is applied to the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultIrisAPIEndpoint is Circle's attestation service
	DefaultIrisAPIEndpoint = "https://iris-api.circle.com"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// GetEnvChainID returns the settlement chain id, part of the EIP-712 domain
func GetEnvChainID() (*big.Int, error) {
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		return big.NewInt(DefaultChainID), nil
	}

	parsed, ok := new(big.Int).SetString(chainID, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, fmt.Errorf("invalid CHAIN_ID value: %s, must be a positive integer", chainID)
	}
	return parsed, nil
}

// GetEnvAddress returns the address in key, or fallback when key is unset
func GetEnvAddress(key string, fallback common.Address) (common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, value)
	}
	return common.HexToAddress(value), nil
}

// GetEnvAddressList returns the comma separated addresses in key
func GetEnvAddressList(key string) ([]common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}

	var addresses []common.Address
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid %s entry: %s, must be a valid Ethereum address", key, part)
		}
		addresses = append(addresses, common.HexToAddress(part))
	}
	return addresses, nil
}

// GetEnvCredentials returns the API credentials in key, a comma separated list of
// <address>:<bearer key> pairs, as a map from bearer key to account
func GetEnvCredentials(key string) (map[string]common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}

	credentials := make(map[string]common.Address)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		account, secret, ok := strings.Cut(part, ":")
		account, secret = strings.TrimSpace(account), strings.TrimSpace(secret)
		if !ok || secret == "" || !common.IsHexAddress(account) {
			return nil, fmt.Errorf("invalid %s entry, must be <address>:<key>", key)
		}
		if _, dup := credentials[secret]; dup {
			return nil, fmt.Errorf("invalid %s: key for %s is already assigned", key, account)
		}
		credentials[secret] = common.HexToAddress(account)
	}
	return credentials, nil
}

// GetEnvLocalDomain returns the CCTP domain of the settlement chain
func GetEnvLocalDomain(chainID *big.Int) (uint32, error) {
	domain := os.Getenv("LOCAL_DOMAIN")
	if domain == "" {
		if chainID.IsInt64() {
			if d, ok := GetCCTPDomain(chainID.Int64()); ok {
				return d, nil
			}
		}
		return 0, fmt.Errorf("LOCAL_DOMAIN is required for chain %s", chainID)
	}

	parsed, err := strconv.ParseUint(domain, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LOCAL_DOMAIN value: %s, must be an unsigned integer", domain)
	}
	return uint32(parsed), nil
}

// GetEnvAssetDecimals returns the decimals of the settlement asset
func GetEnvAssetDecimals() (int32, error) {
	decimals := os.Getenv("ASSET_DECIMALS")
	if decimals == "" {
		return DefaultAssetDecimals, nil
	}

	parsed, err := strconv.Atoi(decimals)
	if err != nil || parsed < 0 || parsed > 36 {
		return 0, fmt.Errorf("invalid ASSET_DECIMALS value: %s, must be an integer between 0 and 36", decimals)
	}
	return int32(parsed), nil
}

// GetEnvStoreDriver returns the ledger backend
func GetEnvStoreDriver() (string, error) {
	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		return DefaultStoreDriver, nil
	}

	switch driver {
	case StoreMemory, StoreSQLite, StorePostgres:
		return driver, nil
	}
	return "", fmt.Errorf("invalid STORE_DRIVER value: %s, must be 'memory', 'sqlite' or 'postgres'", driver)
}

// GetEnvStoreDSN returns the ledger data source name for driver
func GetEnvStoreDSN(driver string) (string, error) {
	dsn := os.Getenv("STORE_DSN")
	if dsn != "" {
		return dsn, nil
	}

	switch driver {
	case StoreSQLite:
		return DefaultStoreDSN, nil
	case StorePostgres:
		return "", fmt.Errorf("STORE_DSN is required for the postgres store")
	}
	return "", nil
}

// GetEnvAPIPort returns the API server port from environment variables
func GetEnvAPIPort() (string, error) {
	port := os.Getenv("API_PORT")
	if port == "" {
		return DefaultAPIPort, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvPollingInterval returns the attestation polling interval from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvWorkerCount returns the number of relay workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvBool returns a 'true'/'false' flag from environment variables
func GetEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	switch value {
	case "":
		return fallback, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, value)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvDuration returns a duration string such as 5m from environment variables
func GetEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvGasMultiplier returns the gas price multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a positive number", multiplier)
	}
	return parsed, nil
}

// GetEnvURL returns a URL from environment variables
func GetEnvURL(key, fallback string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	if _, err := url.ParseRequestURI(value); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid URL", key, value)
	}
	return value, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s: %v", level, err)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log output is colored
func GetEnvLogColoring() (bool, error) {
	return GetEnvBool("LOG_COLORING", true)
}

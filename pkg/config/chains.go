package config

import (
	"strings"

	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
)

// chainNames maps chain IDs to their names
var chainNames = map[int64]string{
	1:     "ETHEREUM",
	10:    "OPTIMISM",
	130:   "UNICHAIN",
	137:   "POLYGON",
	8453:  "BASE",
	42161: "ARBITRUM",
	43114: "AVALANCHE",
	59144: "LINEA",
}

// cctpDomains maps EVM chain IDs to their CCTP domain
var cctpDomains = map[int64]uint32{
	1:     chains.DomainEthereum,
	10:    chains.DomainOptimism,
	130:   chains.DomainUnichain,
	137:   chains.DomainPolygon,
	8453:  chains.DomainBase,
	42161: chains.DomainArbitrum,
	43114: chains.DomainAvalanche,
	59144: chains.DomainLinea,
}

// usdcAddresses maps chain IDs to native USDC contract addresses
var usdcAddresses = map[int64]string{
	1:     "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	10:    "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	130:   "0x078D782b760474a361dDA0AF3839290b0EF57AD6",
	137:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	8453:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	42161: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	43114: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	59144: "0x176211869cA2b568f2A7D4EE941E073a821EE1ff",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int64) string {
	return chainNames[chainID]
}

// GetCCTPDomain returns the CCTP domain of a chain ID
func GetCCTPDomain(chainID int64) (uint32, bool) {
	domain, ok := cctpDomains[chainID]
	return domain, ok
}

// GetUSDCAddress returns the USDC contract address for a given chain ID
func GetUSDCAddress(chainID int64) string {
	return usdcAddresses[chainID]
}

// IsUSDC reports whether address is the native USDC of any known chain
func IsUSDC(address string) bool {
	address = strings.ToLower(address)
	for _, usdc := range usdcAddresses {
		if strings.ToLower(usdc) == address {
			return true
		}
	}
	return false
}

// Package chains lists the CCTP domains the settler knows about
package chains

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// CCTP domain ids as assigned by Circle
const (
	DomainEthereum  uint32 = 0
	DomainAvalanche uint32 = 1
	DomainOptimism  uint32 = 2
	DomainArbitrum  uint32 = 3
	DomainNoble     uint32 = 4
	DomainSolana    uint32 = 5
	DomainBase      uint32 = 6
	DomainPolygon   uint32 = 7
	DomainUnichain  uint32 = 10
	DomainLinea     uint32 = 11
)

// DomainList contains the list of supported CCTP domains
var DomainList = []uint32{
	DomainEthereum,
	DomainAvalanche,
	DomainOptimism,
	DomainArbitrum,
	DomainNoble,
	DomainSolana,
	DomainBase,
	DomainPolygon,
	DomainUnichain,
	DomainLinea,
}

// domainNames maps domain ids to their names
var domainNames = map[uint32]string{
	DomainEthereum:  "ETHEREUM",
	DomainAvalanche: "AVALANCHE",
	DomainOptimism:  "OPTIMISM",
	DomainArbitrum:  "ARBITRUM",
	DomainNoble:     "NOBLE",
	DomainSolana:    "SOLANA",
	DomainBase:      "BASE",
	DomainPolygon:   "POLYGON",
	DomainUnichain:  "UNICHAIN",
	DomainLinea:     "LINEA",
}

// ReceiveMessageGasLimit is the gas limit used for receiveMessage on each destination domain
var ReceiveMessageGasLimit = map[uint32]uint64{
	DomainEthereum:  400000,
	DomainAvalanche: 400000,
	DomainOptimism:  400000,
	DomainArbitrum:  1000000, // Arbitrum gas accounting includes L1 data
	DomainBase:      400000,
	DomainPolygon:   400000,
	DomainUnichain:  400000,
	DomainLinea:     600000,
}

// DefaultReceiveMessageGasLimit is used for domains without an explicit entry
const DefaultReceiveMessageGasLimit uint64 = 400000

// GetDomainName returns the name of the domain, or an empty string if unknown
func GetDomainName(domain uint32) string {
	name, exists := domainNames[domain]
	if !exists {
		return ""
	}
	return name
}

// IsSupported reports whether domain is a known CCTP domain
func IsSupported(domain uint32) bool {
	_, exists := domainNames[domain]
	return exists
}

// GasLimit returns the receiveMessage gas limit for domain
func GasLimit(domain uint32) uint64 {
	if limit, ok := ReceiveMessageGasLimit[domain]; ok {
		return limit
	}
	return DefaultReceiveMessageGasLimit
}

// FormatAmount converts a base-unit amount to a decimal string using the asset decimals
func FormatAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseAmount converts a decimal string such as "12.5" to base units, rejecting excess precision
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &PrecisionError{Value: s, Decimals: decimals}
	}
	return scaled.BigInt(), nil
}

// PrecisionError reports an amount with more fractional digits than the asset supports
type PrecisionError struct {
	Value    string
	Decimals int32
}

func (e *PrecisionError) Error() string {
	return "amount " + e.Value + " has more than " + decimal.NewFromInt32(e.Decimals).String() + " decimals"
}

package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress returns the lowercase 0x form of an EVM address, or "" if it is not one
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(address), "0x") {
		address = "0x" + address
	}
	if !common.IsHexAddress(address) {
		return ""
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// IsZeroAddress checks for the all-zero EVM address
func IsZeroAddress(address string) bool {
	return common.HexToAddress(address) == (common.Address{})
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	return na != "" && na == nb
}

package utils

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// TokenDecimals fixed-point scale of amounts on the wire
const TokenDecimals = 18

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create ABI type %s: %v", t, err))
	}
	return typ
}

var (
	addressType      = mustNewType("address")
	addressArrayType = mustNewType("address[]")
	uint256Type      = mustNewType("uint256")
	uint256ArrayType = mustNewType("uint256[]")

	// abi.encode(address recipient, uint256 amount)
	bridgePayloadArgs = abi.Arguments{{Type: addressType}, {Type: uint256Type}}
	// abi.encode(address[] tokens, uint256[] amounts)
	basketArgs = abi.Arguments{{Type: addressArrayType}, {Type: uint256ArrayType}}
	// abi.encode(uint256 source, uint256 destination, uint256 nonce)
	messageHeaderArgs = abi.Arguments{{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}}
)

// ToWei scales a decimal amount to its integer wire form
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).BigInt()
}

// FromWei converts an integer wire amount back to a decimal
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -TokenDecimals)
}

// EncodeBridgePayload ABI-encodes the (recipient, amount) bridge message
func EncodeBridgePayload(recipient string, amount decimal.Decimal) ([]byte, error) {
	packed, err := bridgePayloadArgs.Pack(common.HexToAddress(recipient), ToWei(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge payload: %w", err)
	}
	return packed, nil
}

// DecodeBridgePayload reverses EncodeBridgePayload
func DecodeBridgePayload(payload []byte) (string, decimal.Decimal, error) {
	values, err := bridgePayloadArgs.Unpack(payload)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("failed to decode bridge payload: %w", err)
	}
	if len(values) != 2 {
		return "", decimal.Zero, fmt.Errorf("bridge payload has %d fields, want 2", len(values))
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("bridge payload recipient has type %T", values[0])
	}
	wei, ok := values[1].(*big.Int)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("bridge payload amount has type %T", values[1])
	}
	return NormalizeAddress(recipient.Hex()), FromWei(wei), nil
}

// BridgeMessageID keccak256(source, destination, nonce, payload) as 0x hex
func BridgeMessageID(source, destination, nonce uint64, payload []byte) (string, error) {
	header, err := messageHeaderArgs.Pack(
		new(big.Int).SetUint64(source),
		new(big.Int).SetUint64(destination),
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return "", fmt.Errorf("failed to encode message header: %w", err)
	}
	return crypto.Keccak256Hash(header, payload).Hex(), nil
}

// BasketDigest keccak256 of the ABI-encoded basket, the opaque reference sent to the oracle
func BasketDigest(tokens []string, amounts []decimal.Decimal) (string, error) {
	if len(tokens) != len(amounts) {
		return "", fmt.Errorf("basket has %d tokens and %d amounts", len(tokens), len(amounts))
	}
	addrs := make([]common.Address, len(tokens))
	weis := make([]*big.Int, len(amounts))
	for i := range tokens {
		addrs[i] = common.HexToAddress(tokens[i])
		weis[i] = ToWei(amounts[i])
	}
	packed, err := basketArgs.Pack(addrs, weis)
	if err != nil {
		return "", fmt.Errorf("failed to encode basket: %w", err)
	}
	return crypto.Keccak256Hash(packed).Hex(), nil
}

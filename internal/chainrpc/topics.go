package chainrpc

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Known event signatures (keccak256 of the canonical event declaration)
// ---------------------------------------------------------------------------

const (
	// PairCreated(address,address,address,uint256) — Uniswap V2 factories.
	TopicPairCreatedV2 = "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"

	// Swap(address,uint256,uint256,uint256,uint256,address) — Uniswap V2 pairs.
	TopicSwapV2 = "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"

	// Swap(address,address,int256,int256,uint160,uint128,int24) — Uniswap V3 pools.
	TopicSwapV3 = "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"
)

// DefaultSwapTopics is the swap signature set used when a chain config
// does not override it.
var DefaultSwapTopics = []string{TopicSwapV2, TopicSwapV3}

// TopicAddress extracts an address from a 32-byte topic word. Addresses
// are right-aligned: the value is always the last 40 hex characters,
// regardless of how the left padding looks.
func TopicAddress(topic string) string {
	h := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(h) < 40 {
		return ""
	}
	return "0x" + h[len(h)-40:]
}

// DataWords splits ABI-encoded event data into 32-byte hex words.
func DataWords(data string) []string {
	h := strings.TrimPrefix(data, "0x")
	n := len(h) / 64
	words := make([]string, 0, n)
	for i := 0; i < n; i++ {
		words = append(words, h[i*64:(i+1)*64])
	}
	return words
}

// WordAmount interprets one unsigned 256-bit data word as a token
// amount with the given number of decimals.
func WordAmount(word string, decimals int) decimal.Decimal {
	bi, ok := new(big.Int).SetString(word, 16)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(bi, -int32(decimals))
}

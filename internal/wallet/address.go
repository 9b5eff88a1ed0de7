package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Chain identifies the network a receiving address belongs to.
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainBase   Chain = "base"
)

// Address is an opaque receiving account identifier.
type Address string

func (a Address) String() string { return string(a) }

var (
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// ParseChain accepts the chain names used by the dashboard. "evm" is an alias for base.
func ParseChain(raw string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "solana", "":
		return ChainSolana, nil
	case "base", "evm":
		return ChainBase, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, raw)
}

// ParseAddress validates raw for the given chain and returns its canonical form.
// Solana keys are re-encoded as base58; EVM addresses are EIP-55 checksummed.
func ParseAddress(chain Chain, raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	switch chain {
	case ChainSolana:
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return Address(pk.String()), nil
	case ChainBase:
		if !common.IsHexAddress(raw) {
			return "", fmt.Errorf("%w: not a hex address", ErrInvalidAddress)
		}
		return Address(common.HexToAddress(raw).Hex()), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, chain)
}

// Truncate shortens an address for display, keeping the first 6 and last 4 characters.
func Truncate(addr Address) string {
	s := string(addr)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// ExplorerURL links to the block explorer page for addr.
func ExplorerURL(chain Chain, addr Address) string {
	if addr == "" {
		return ""
	}
	switch chain {
	case ChainBase:
		return "https://basescan.org/address/" + string(addr)
	default:
		return "https://solscan.io/account/" + string(addr)
	}
}

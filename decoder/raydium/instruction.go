package raydium

import (
	"encoding/binary"
	"fmt"
)

// Raydium AMM v4 program ID
const ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

// Instruction tags for the two swap variants in the AMM v4 program.
const (
	tagSwapBaseIn  = 9
	tagSwapBaseOut = 11
)

// SwapInstruction represents the layout of a Raydium AMM v4 swap instruction.
// Both variants carry two u64 amounts after the one-byte tag.
type SwapInstruction struct {
	// Tag identifies the instruction variant (9 = swapBaseIn, 11 = swapBaseOut)
	Tag uint8

	// Amount is the fixed side of the swap (amount_in for swapBaseIn,
	// amount_out for swapBaseOut)
	Amount uint64

	// OtherAmountThreshold is the slippage bound on the floating side
	OtherAmountThreshold uint64

	// IsBaseInput is true when the fixed amount is the input side
	IsBaseInput bool
}

// ParseSwapInstruction decodes a raw instruction payload. Returns nil without
// error for recognised non-swap instructions so callers can skip them.
func ParseSwapInstruction(data []byte) (*SwapInstruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	tag := data[0]
	if tag != tagSwapBaseIn && tag != tagSwapBaseOut {
		return nil, nil
	}

	if len(data) < 17 {
		return nil, fmt.Errorf("swap instruction too short: %d bytes", len(data))
	}

	return &SwapInstruction{
		Tag:                  tag,
		Amount:               binary.LittleEndian.Uint64(data[1:9]),
		OtherAmountThreshold: binary.LittleEndian.Uint64(data[9:17]),
		IsBaseInput:          tag == tagSwapBaseIn,
	}, nil
}

// VaultAccounts resolves the pool's coin and pc vault addresses from the
// instruction account list. The v4 swap account layout has 17 accounts when
// the pool has no target-orders account and 18 when it does.
func VaultAccounts(accounts []string) (vaultCoin, vaultPC string, err error) {
	switch {
	case len(accounts) >= 18:
		return accounts[5], accounts[6], nil
	case len(accounts) == 17:
		return accounts[4], accounts[5], nil
	default:
		return "", "", fmt.Errorf("unexpected account count %d for raydium swap", len(accounts))
	}
}

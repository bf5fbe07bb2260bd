package orcawhirlpool

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Orca Whirlpool program ID
const ProgramID = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

// Anchor discriminator for the swap instruction (sha256("global:swap")[:8]).
var swapDiscriminator = []byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8}

// SwapInstruction represents the decoded Whirlpool swap arguments.
type SwapInstruction struct {
	// Amount is the fixed side of the swap
	Amount uint64

	// OtherAmountThreshold bounds the floating side
	OtherAmountThreshold uint64

	// SqrtPriceLimit is a Q64.64 bound on the post-swap price (u128 split
	// into low/high words)
	SqrtPriceLimitLow  uint64
	SqrtPriceLimitHigh uint64

	// AmountSpecifiedIsInput is true when Amount refers to the input token
	AmountSpecifiedIsInput bool

	// AToB gives the swap direction across the pool's token pair
	AToB bool
}

// ParseSwapInstruction decodes a raw Whirlpool instruction payload. Returns
// nil without error when the payload is not a swap.
func ParseSwapInstruction(data []byte) (*SwapInstruction, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], swapDiscriminator) {
		return nil, nil
	}
	if len(data) < 42 {
		return nil, fmt.Errorf("whirlpool swap instruction too short: %d bytes", len(data))
	}

	return &SwapInstruction{
		Amount:                 binary.LittleEndian.Uint64(data[8:16]),
		OtherAmountThreshold:   binary.LittleEndian.Uint64(data[16:24]),
		SqrtPriceLimitLow:      binary.LittleEndian.Uint64(data[24:32]),
		SqrtPriceLimitHigh:     binary.LittleEndian.Uint64(data[32:40]),
		AmountSpecifiedIsInput: data[40] != 0,
		AToB:                   data[41] != 0,
	}, nil
}

// VaultAccounts resolves the pool's two token vaults from the swap account
// list: token_vault_a at index 4 and token_vault_b at index 6, with the
// whirlpool itself at index 2.
func VaultAccounts(accounts []string) (whirlpool, vaultA, vaultB string, err error) {
	if len(accounts) < 7 {
		return "", "", "", fmt.Errorf("unexpected account count %d for whirlpool swap", len(accounts))
	}
	return accounts[2], accounts[4], accounts[6], nil
}

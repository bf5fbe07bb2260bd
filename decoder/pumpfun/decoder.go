package pumpfun

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Pump.fun bonding-curve program ID
const ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Anchor discriminators for the two trade instructions.
var (
	buyDiscriminator  = []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
	sellDiscriminator = []byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}
)

// Side distinguishes the bonding-curve trade direction.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// TradeInstruction represents a decoded pump.fun buy or sell.
type TradeInstruction struct {
	Side Side

	// TokenAmount is the token quantity bought or sold
	TokenAmount uint64

	// SolThreshold is max_sol_cost for buys, min_sol_output for sells
	SolThreshold uint64
}

// ParseTradeInstruction decodes a raw pump.fun instruction payload. Returns
// nil without error when the payload is neither a buy nor a sell.
func ParseTradeInstruction(data []byte) (*TradeInstruction, error) {
	if len(data) < 8 {
		return nil, nil
	}

	var side Side
	switch {
	case bytes.Equal(data[:8], buyDiscriminator):
		side = SideBuy
	case bytes.Equal(data[:8], sellDiscriminator):
		side = SideSell
	default:
		return nil, nil
	}

	if len(data) < 24 {
		return nil, fmt.Errorf("pump %s instruction too short: %d bytes", side, len(data))
	}

	return &TradeInstruction{
		Side:         side,
		TokenAmount:  binary.LittleEndian.Uint64(data[8:16]),
		SolThreshold: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

// CurveAccounts resolves the bonding curve and its associated token account
// from the trade account list (indices 3 and 4 in both buy and sell).
func CurveAccounts(accounts []string) (bondingCurve, associatedCurve string, err error) {
	if len(accounts) < 5 {
		return "", "", fmt.Errorf("unexpected account count %d for pump trade", len(accounts))
	}
	return accounts[3], accounts[4], nil
}

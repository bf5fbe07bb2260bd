package decoder

import (
	"fmt"

	orcawhirlpool "github.com/piotrostr/listen-engine/decoder/orca_whirlpool"
	"github.com/piotrostr/listen-engine/decoder/pumpfun"
	ray "github.com/piotrostr/listen-engine/decoder/raydium"
)

// Kind identifies the protocol family a decoded instruction belongs to.
type Kind uint8

const (
	KindRaydiumSwap Kind = iota
	KindWhirlpoolSwap
	KindPumpTrade
)

func (k Kind) String() string {
	switch k {
	case KindRaydiumSwap:
		return "raydium_swap"
	case KindWhirlpoolSwap:
		return "whirlpool_swap"
	case KindPumpTrade:
		return "pump_trade"
	default:
		return "unknown"
	}
}

// Instruction is the typed result of decoding one swap-shaped instruction:
// which protocol it belongs to and which accounts hold the pool balances the
// diff extractor should look at.
type Instruction struct {
	ProgramID string
	Kind      Kind
	IsPump    bool

	// Pool is the AMM pool / bonding curve address when the layout exposes it
	Pool string

	// VaultA and VaultB are the pool-side token accounts for the pair
	VaultA string
	VaultB string
}

// DecodeError annotates decode failures with the program identifier.
type DecodeError struct {
	Program string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Program, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TrackedPrograms lists every program id the ingestion filter subscribes to.
// The dispatch below is exhaustive over this set.
func TrackedPrograms() []string {
	return []string{ray.ProgramID, orcawhirlpool.ProgramID, pumpfun.ProgramID}
}

// Tracked reports whether the program id belongs to a supported AMM family.
func Tracked(programID string) bool {
	switch programID {
	case ray.ProgramID, orcawhirlpool.ProgramID, pumpfun.ProgramID:
		return true
	default:
		return false
	}
}

// Decode maps (program id, instruction payload, account list) to a typed
// instruction. It returns (nil, nil) for untracked programs and for tracked
// programs' non-swap instructions; a *DecodeError when a swap-shaped payload
// is malformed. Decoding is pure: the same inputs always yield the same
// output.
func Decode(programID string, data []byte, accounts []string) (*Instruction, error) {
	switch programID {
	case ray.ProgramID:
		instr, err := ray.ParseSwapInstruction(data)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		if instr == nil {
			return nil, nil
		}
		vaultCoin, vaultPC, err := ray.VaultAccounts(accounts)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		pool := ""
		if len(accounts) > 1 {
			pool = accounts[1]
		}
		return &Instruction{
			ProgramID: programID,
			Kind:      KindRaydiumSwap,
			Pool:      pool,
			VaultA:    vaultCoin,
			VaultB:    vaultPC,
		}, nil

	case orcawhirlpool.ProgramID:
		instr, err := orcawhirlpool.ParseSwapInstruction(data)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		if instr == nil {
			return nil, nil
		}
		pool, vaultA, vaultB, err := orcawhirlpool.VaultAccounts(accounts)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		return &Instruction{
			ProgramID: programID,
			Kind:      KindWhirlpoolSwap,
			Pool:      pool,
			VaultA:    vaultA,
			VaultB:    vaultB,
		}, nil

	case pumpfun.ProgramID:
		instr, err := pumpfun.ParseTradeInstruction(data)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		if instr == nil {
			return nil, nil
		}
		curve, associated, err := pumpfun.CurveAccounts(accounts)
		if err != nil {
			return nil, &DecodeError{Program: programID, Err: err}
		}
		return &Instruction{
			ProgramID: programID,
			Kind:      KindPumpTrade,
			IsPump:    true,
			Pool:      curve,
			VaultA:    curve,
			VaultB:    associated,
		}, nil

	default:
		return nil, nil
	}
}

package decoder

import (
	"encoding/binary"
	"errors"
	"testing"

	orcawhirlpool "github.com/piotrostr/listen-engine/decoder/orca_whirlpool"
	"github.com/piotrostr/listen-engine/decoder/pumpfun"
	ray "github.com/piotrostr/listen-engine/decoder/raydium"
)

func raydiumSwapData() []byte {
	data := make([]byte, 17)
	data[0] = 9
	binary.LittleEndian.PutUint64(data[1:9], 1_000_000)
	binary.LittleEndian.PutUint64(data[9:17], 990_000)
	return data
}

func whirlpoolSwapData() []byte {
	data := make([]byte, 42)
	copy(data, []byte{0xf8, 0xc6, 0x9e, 0x91, 0xe1, 0x75, 0x87, 0xc8})
	binary.LittleEndian.PutUint64(data[8:16], 123)
	return data
}

func pumpBuyData() []byte {
	data := make([]byte, 24)
	copy(data, []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea})
	binary.LittleEndian.PutUint64(data[8:16], 555)
	return data
}

func accountList(n int) []string {
	accounts := make([]string, n)
	for i := range accounts {
		accounts[i] = string(rune('A' + i))
	}
	return accounts
}

func TestDecodeRaydium(t *testing.T) {
	accounts := accountList(18)
	instr, err := Decode(ray.ProgramID, raydiumSwapData(), accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr == nil {
		t.Fatal("expected instruction")
	}
	if instr.Kind != KindRaydiumSwap || instr.IsPump {
		t.Fatalf("decoded as %s (pump=%v)", instr.Kind, instr.IsPump)
	}
	if instr.VaultA != accounts[5] || instr.VaultB != accounts[6] {
		t.Fatalf("vaults resolved (%s, %s)", instr.VaultA, instr.VaultB)
	}
}

func TestDecodeWhirlpool(t *testing.T) {
	accounts := accountList(8)
	instr, err := Decode(orcawhirlpool.ProgramID, whirlpoolSwapData(), accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr == nil || instr.Kind != KindWhirlpoolSwap {
		t.Fatalf("decoded as %+v", instr)
	}
	if instr.Pool != accounts[2] {
		t.Fatalf("pool resolved as %s", instr.Pool)
	}
}

func TestDecodePump(t *testing.T) {
	accounts := accountList(6)
	instr, err := Decode(pumpfun.ProgramID, pumpBuyData(), accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr == nil || instr.Kind != KindPumpTrade || !instr.IsPump {
		t.Fatalf("decoded as %+v", instr)
	}
}

func TestDecodeUntrackedProgram(t *testing.T) {
	instr, err := Decode("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", raydiumSwapData(), accountList(18))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr != nil {
		t.Fatalf("expected nil for untracked program, got %+v", instr)
	}
}

func TestDecodeNonSwapInstruction(t *testing.T) {
	data := []byte{3, 0, 0, 0, 0, 0, 0, 0, 0}
	instr, err := Decode(ray.ProgramID, data, accountList(18))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr != nil {
		t.Fatalf("expected nil for non-swap, got %+v", instr)
	}
}

func TestDecodeMalformedSwap(t *testing.T) {
	_, err := Decode(ray.ProgramID, []byte{9, 1, 2}, accountList(18))
	if err == nil {
		t.Fatal("expected decode error")
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if decodeErr.Program != ray.ProgramID {
		t.Fatalf("error attributed to %s", decodeErr.Program)
	}
}

func TestDecodeIsPure(t *testing.T) {
	accounts := accountList(18)
	data := raydiumSwapData()
	first, err := Decode(ray.ProgramID, data, accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Decode(ray.ProgramID, data, accounts)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if *again != *first {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestTracked(t *testing.T) {
	for _, id := range TrackedPrograms() {
		if !Tracked(id) {
			t.Fatalf("%s should be tracked", id)
		}
	}
	if Tracked("11111111111111111111111111111111") {
		t.Fatal("system program should not be tracked")
	}
}

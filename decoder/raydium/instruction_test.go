package raydium

import (
	"encoding/binary"
	"testing"
)

func buildSwapData(tag byte, amount, threshold uint64) []byte {
	data := make([]byte, 17)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:9], amount)
	binary.LittleEndian.PutUint64(data[9:17], threshold)
	return data
}

func TestParseSwapInstruction(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		want        *SwapInstruction
		wantErr     bool
		wantSkipped bool
	}{
		{
			name: "swapBaseIn",
			data: buildSwapData(9, 1_000_000, 995_000),
			want: &SwapInstruction{Tag: 9, Amount: 1_000_000, OtherAmountThreshold: 995_000, IsBaseInput: true},
		},
		{
			name: "swapBaseOut",
			data: buildSwapData(11, 250_000, 260_000),
			want: &SwapInstruction{Tag: 11, Amount: 250_000, OtherAmountThreshold: 260_000, IsBaseInput: false},
		},
		{
			name:        "deposit instruction is not a swap",
			data:        buildSwapData(3, 1, 1),
			wantSkipped: true,
		},
		{
			name:    "truncated swap payload",
			data:    []byte{9, 0x01, 0x02},
			wantErr: true,
		},
		{
			name:    "empty payload",
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSwapInstruction(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantSkipped {
				if got != nil {
					t.Fatalf("expected nil for non-swap, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected instruction, got nil")
			}
			if *got != *tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVaultAccounts(t *testing.T) {
	accounts18 := make([]string, 18)
	for i := range accounts18 {
		accounts18[i] = string(rune('a' + i))
	}
	accounts17 := accounts18[:17]

	coin, pc, err := VaultAccounts(accounts18)
	if err != nil {
		t.Fatalf("18-account layout: %v", err)
	}
	if coin != accounts18[5] || pc != accounts18[6] {
		t.Fatalf("18-account layout resolved (%s, %s)", coin, pc)
	}

	coin, pc, err = VaultAccounts(accounts17)
	if err != nil {
		t.Fatalf("17-account layout: %v", err)
	}
	if coin != accounts17[4] || pc != accounts17[5] {
		t.Fatalf("17-account layout resolved (%s, %s)", coin, pc)
	}

	if _, _, err := VaultAccounts(accounts17[:10]); err == nil {
		t.Fatal("expected error for short account list")
	}
}

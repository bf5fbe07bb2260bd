// Package diff derives per-(mint,owner) balance changes from a transaction's
// pre/post token balances. The resulting deltas are the raw material for swap
// price computation.
package diff

import (
	"sort"
	"strconv"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/piotrostr/listen-engine/decoder/common"
)

// Diff is the signed balance change of one token for one owner across a
// transaction. Amounts are UI values (scaled by the mint's decimals).
type Diff struct {
	Mint       string
	Owner      string
	PreAmount  float64
	PostAmount float64
	Delta      float64
	Decimals   uint8
}

type balanceKey struct {
	mint  string
	owner string
}

type balanceEntry struct {
	pre      float64
	post     float64
	decimals uint8
	hasPre   bool
	hasPost  bool
}

// Extract builds pre/post balance maps keyed by (mint,owner) and returns one
// Diff per key with a non-zero delta. Entries without a resolvable amount are
// skipped; a missing pre balance is treated as zero. Balances held by the AMM
// authority are excluded so that the surviving diffs describe the
// user-visible sides of the swap.
func Extract(pre, post []*pb.TokenBalance) []Diff {
	entries := make(map[balanceKey]*balanceEntry)

	for _, bal := range pre {
		key, amount, decimals, ok := resolve(bal)
		if !ok {
			continue
		}
		entry := ensure(entries, key, decimals)
		entry.pre = amount
		entry.hasPre = true
	}

	for _, bal := range post {
		key, amount, decimals, ok := resolve(bal)
		if !ok {
			continue
		}
		entry := ensure(entries, key, decimals)
		entry.post = amount
		entry.hasPost = true
	}

	diffs := make([]Diff, 0, len(entries))
	for key, entry := range entries {
		delta := entry.post - entry.pre
		if delta == 0 {
			continue
		}
		diffs = append(diffs, Diff{
			Mint:       key.mint,
			Owner:      key.owner,
			PreAmount:  entry.pre,
			PostAmount: entry.post,
			Delta:      delta,
			Decimals:   entry.decimals,
		})
	}

	// Map iteration order is random; keep output deterministic for callers
	// and tests.
	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Mint != diffs[j].Mint {
			return diffs[i].Mint < diffs[j].Mint
		}
		return diffs[i].Owner < diffs[j].Owner
	})
	return diffs
}

func resolve(bal *pb.TokenBalance) (balanceKey, float64, uint8, bool) {
	if bal == nil {
		return balanceKey{}, 0, 0, false
	}
	owner := bal.GetOwner()
	mint := bal.GetMint()
	if owner == "" || mint == "" {
		return balanceKey{}, 0, 0, false
	}
	if owner == common.RaydiumAuthority {
		return balanceKey{}, 0, 0, false
	}

	ui := bal.GetUiTokenAmount()
	if ui == nil {
		return balanceKey{}, 0, 0, false
	}
	raw := ui.GetAmount()
	if raw == "" {
		return balanceKey{}, 0, 0, false
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return balanceKey{}, 0, 0, false
	}

	decimals := uint8(ui.GetDecimals())
	return balanceKey{mint: mint, owner: owner}, common.ScaleAmount(parsed, decimals), decimals, true
}

func ensure(entries map[balanceKey]*balanceEntry, key balanceKey, decimals uint8) *balanceEntry {
	entry, ok := entries[key]
	if !ok {
		entry = &balanceEntry{decimals: decimals}
		entries[key] = entry
	}
	return entry
}

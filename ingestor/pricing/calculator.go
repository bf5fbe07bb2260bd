package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/piotrostr/listen-engine/decoder/common"
	"github.com/piotrostr/listen-engine/ingestor/diff"
)

// Skip reasons surfaced by the calculator. Each maps to a named counter.
const (
	SkipUnexpectedTokenCount = "unexpected_token_count"
	SkipTinySwap             = "tiny_swap"
	SkipNonAnchored          = "non_anchored"
	SkipNoReferencePrice     = "no_reference_price"
)

// SkipError marks a swap the calculator declined to price. Skips are
// expected in steady state and only counted, never logged as failures.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("swap skipped: %s", e.Reason)
}

// defaultMinNotional is the minimum UI magnitude under which a swap is
// considered dust when both sides fall below it.
const defaultMinNotional = 0.01

// RefSource supplies the USD price of the native wrapped token.
type RefSource interface {
	SolPrice(ctx context.Context) (float64, error)
}

// Input carries one swap's diffs plus transaction context.
type Input struct {
	Diffs     []diff.Diff
	Slot      uint64
	Timestamp int64
	Signature string
	IsPump    bool
}

// Calculator converts a two-token diff pair into a priced observation,
// anchored on a reference-priced asset.
type Calculator struct {
	refs        RefSource
	meta        MetadataLookup
	minNotional float64
}

// NewCalculator constructs a Calculator. meta may be nil, in which case
// market caps are omitted and names fall back to mint prefixes.
func NewCalculator(refs RefSource, meta MetadataLookup) *Calculator {
	return &Calculator{
		refs:        refs,
		meta:        meta,
		minNotional: defaultMinNotional,
	}
}

// Compute prices a swap. A valid swap yields exactly two non-zero diffs with
// one side anchored; anything else returns a *SkipError.
func (c *Calculator) Compute(ctx context.Context, in Input) (*Observation, error) {
	if len(in.Diffs) != 2 {
		return nil, &SkipError{Reason: SkipUnexpectedTokenCount}
	}

	a, b := in.Diffs[0], in.Diffs[1]
	if math.Abs(a.Delta) < c.minNotional && math.Abs(b.Delta) < c.minNotional {
		return nil, &SkipError{Reason: SkipTinySwap}
	}

	anchor, token, ok := pickAnchor(a, b)
	if !ok {
		return nil, &SkipError{Reason: SkipNonAnchored}
	}

	refPrice, err := c.anchorPrice(ctx, anchor.Mint)
	if err != nil {
		// The swap is anchored but the reference feed is down; keep the
		// reason distinct from shape problems so the counters tell the
		// two failure modes apart.
		return nil, &SkipError{Reason: SkipNoReferencePrice}
	}

	anchorAmount := math.Abs(anchor.Delta)
	tokenAmount := math.Abs(token.Delta)
	if tokenAmount == 0 {
		return nil, &SkipError{Reason: SkipUnexpectedTokenCount}
	}

	obs := &Observation{
		Pubkey:     token.Mint,
		Price:      anchorAmount / tokenAmount * refPrice,
		Slot:       in.Slot,
		Timestamp:  in.Timestamp,
		SwapAmount: anchorAmount * refPrice,
		Owner:      token.Owner,
		Signature:  in.Signature,
		MultiHop:   sameSign(anchor.Delta, token.Delta),
		IsBuy:      token.Delta > 0,
		IsPump:     in.IsPump,
	}

	obs.Name = shortName(token.Mint)
	if c.meta != nil {
		if meta, ok := c.meta.TokenMeta(ctx, token.Mint); ok {
			if meta.Name != "" {
				obs.Name = meta.Name
			}
			if meta.Supply > 0 {
				obs.MarketCap = obs.Price * meta.Supply
			}
		}
	}

	return obs, nil
}

// pickAnchor selects the reference-priced side. When both sides are anchors
// (e.g. a SOL/USDC swap) the stable side anchors so the native token itself
// gets priced.
func pickAnchor(a, b diff.Diff) (anchor, token diff.Diff, ok bool) {
	switch {
	case common.IsStable(a.Mint) && !common.IsStable(b.Mint):
		return a, b, true
	case common.IsStable(b.Mint) && !common.IsStable(a.Mint):
		return b, a, true
	case common.IsAnchor(a.Mint) && !common.IsAnchor(b.Mint):
		return a, b, true
	case common.IsAnchor(b.Mint) && !common.IsAnchor(a.Mint):
		return b, a, true
	default:
		return diff.Diff{}, diff.Diff{}, false
	}
}

func (c *Calculator) anchorPrice(ctx context.Context, mint string) (float64, error) {
	if common.IsStable(mint) {
		return 1.0, nil
	}
	return c.refs.SolPrice(ctx)
}

func sameSign(a, b float64) bool {
	return (a < 0) == (b < 0)
}

func shortName(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:8]
}

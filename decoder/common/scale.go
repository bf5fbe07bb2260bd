package common

import "math"

// ScaleAmount converts a raw token amount into its UI value using the mint's
// decimal count.
func ScaleAmount(raw uint64, decimals uint8) float64 {
	if decimals == 0 {
		return float64(raw)
	}
	return float64(raw) / math.Pow10(int(decimals))
}

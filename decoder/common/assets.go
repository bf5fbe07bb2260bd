package common

// Well-known Solana mints used to anchor swap pricing.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// RaydiumAuthority is the AMM authority PDA whose vault entries are excluded
// from diff extraction (it appears on both sides of every Raydium swap).
const RaydiumAuthority = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"

// IsStable reports whether the mint is priced at 1.0 USD by definition.
func IsStable(mint string) bool {
	return mint == USDCMint || mint == USDTMint
}

// IsAnchor reports whether the mint can anchor a swap price.
func IsAnchor(mint string) bool {
	return mint == WSOLMint || IsStable(mint)
}

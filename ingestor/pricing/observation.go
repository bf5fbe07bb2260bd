package pricing

// Observation is one priced swap. Immutable once produced; persisted to the
// warehouse and broadcast on the price_updates subject.
type Observation struct {
	Name       string  `json:"name"`
	Pubkey     string  `json:"pubkey"`
	Price      float64 `json:"price"`
	MarketCap  float64 `json:"market_cap"`
	Timestamp  int64   `json:"timestamp"`
	Slot       uint64  `json:"slot"`
	SwapAmount float64 `json:"swap_amount"`
	Owner      string  `json:"owner"`
	Signature  string  `json:"signature"`
	MultiHop   bool    `json:"multi_hop"`
	IsBuy      bool    `json:"is_buy"`
	IsPump     bool    `json:"is_pump"`
}

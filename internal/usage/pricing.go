package usage

// Pricing holds per-million-token rates used when a log record carries token
// counts but no cost.
type Pricing struct {
	Input      float64 `koanf:"input" validate:"gte=0"`       // USD per 1M input tokens
	Output     float64 `koanf:"output" validate:"gte=0"`      // USD per 1M output tokens
	CacheRead  float64 `koanf:"cache_read" validate:"gte=0"`  // USD per 1M cache-read tokens
	CacheWrite float64 `koanf:"cache_write" validate:"gte=0"` // USD per 1M cache-write tokens
}

// DefaultPricing provides list rates for a mid-tier model. Override them in
// config when the logs come from something else.
func DefaultPricing() *Pricing {
	return &Pricing{
		Input:      3.0,
		Output:     15.0,
		CacheRead:  0.30,
		CacheWrite: 3.75,
	}
}

// Estimate returns the cost of the given counters in USD.
func (p *Pricing) Estimate(c Counters) float64 {
	const perMillion = 1_000_000.0
	return (float64(c.Input)*p.Input +
		float64(c.Output)*p.Output +
		float64(c.CacheRead)*p.CacheRead +
		float64(c.CacheWrite)*p.CacheWrite) / perMillion
}

// Package pricing turns raw token counts into a dollar cost for a completed
// request, using the model price list in pkg/pricing.
package pricing

import (
	"log/slog"

	ratecard "github.com/gaud-proxy/gaud/pkg/pricing"
)

// Usage carries the token counts needed to price a single request.
// CachedTokens is the portion of InputTokens served from a prompt cache and
// billed at the cheaper cache-read rate; it must be <= InputTokens.
type Usage struct {
	InputTokens  int
	CachedTokens int
	OutputTokens int
}

// Calculator prices completed requests against a Registry of model rates.
type Calculator struct {
	registry *ratecard.Registry
	logger   *slog.Logger
}

// NewCalculator creates a Calculator backed by registry. If registry is nil,
// a Registry loaded with the built-in defaults is used. A nil logger
// discards warnings.
func NewCalculator(registry *ratecard.Registry, logger *slog.Logger) *Calculator {
	if registry == nil {
		registry = ratecard.NewRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Calculator{registry: registry, logger: logger}
}

// Calculate returns the cost in USD for usage against model/provider.
//
//	cost = (input - cached) * input_rate + cached * cache_read_rate + output * output_rate
//
// A model absent from the registry costs 0 and logs a warning rather than
// failing the request.
func (c *Calculator) Calculate(model, provider string, usage Usage) float64 {
	price, ok := c.registry.GetPrice(model, provider)
	if !ok {
		c.logger.Warn("pricing: unknown model, billing as zero cost", "model", model, "provider", provider)
		return 0
	}

	cached := usage.CachedTokens
	if cached > usage.InputTokens {
		cached = usage.InputTokens
	}
	uncached := usage.InputTokens - cached

	cost := float64(uncached) * price.InputCostPerToken
	cost += float64(cached) * price.CacheReadCostPerToken
	cost += float64(usage.OutputTokens) * price.OutputCostPerToken
	return cost
}

// Registry exposes the underlying rate card, e.g. so callers can Load a
// custom pricing file at startup.
func (c *Calculator) Registry() *ratecard.Registry {
	return c.registry
}

// Package pricing caches the shop's price table and computes print
// costs. When the backend is unreachable a built-in default table is
// served so the storefront can keep quoting.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/coordinate"
	"github.com/example/printkiosk/internal/kvstore"
	"github.com/example/printkiosk/internal/models"
)

// DefaultTTL is how long a fetched price table stays fresh
const DefaultTTL = 30 * time.Minute

const cacheKey = "pricing"

// Service fetches, caches and applies the price table
type Service struct {
	api   *backend.API
	store *kvstore.Store
	coord *coordinate.Coordinator
	ttl   time.Duration
}

// NewService creates a pricing service. A non-positive ttl selects
// DefaultTTL.
func NewService(api *backend.API, store *kvstore.Store, coord *coordinate.Coordinator, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{api: api, store: store, coord: coord, ttl: ttl}
}

// Defaults is the fallback table used when the backend is unreachable
func Defaults() models.PriceTable {
	return models.PriceTable{
		Rates: map[string]float64{
			"a4_bw":    2.00,
			"a4_color": 8.00,
			"a3_bw":    4.00,
			"a3_color": 16.00,
		},
		FinishDeltas: map[string]float64{},
		DuplexFactor: 1,
	}
}

// Table returns the current price table: cached if fresh, freshly
// fetched otherwise, defaults when the backend cannot be reached.
// Concurrent cache misses share one fetch.
func (s *Service) Table(ctx context.Context) models.PriceTable {
	var cached models.PriceTable
	err := s.store.Get(cacheKey, &cached)
	if err == nil {
		return cached
	}
	if !errors.Is(err, kvstore.ErrNotFound) && !errors.Is(err, kvstore.ErrExpired) {
		log.Printf("Failed to read pricing cache: %v", err)
	}

	v, err := s.coord.Do(coordinate.KeyPricingFetch, func() (interface{}, error) {
		table, err := s.api.FetchPricing(ctx)
		if err != nil {
			return models.PriceTable{}, err
		}
		if err := s.store.Put(cacheKey, table, s.ttl); err != nil {
			log.Printf("Failed to cache price table: %v", err)
		}
		return table, nil
	})
	if err != nil {
		log.Printf("Pricing fetch failed, using defaults: %v", err)
		return Defaults()
	}
	return v.(models.PriceTable)
}

// Invalidate drops the cached table so the next read refetches
func (s *Service) Invalidate() {
	if err := s.store.Delete(cacheKey); err != nil {
		log.Printf("Failed to invalidate pricing cache: %v", err)
	}
}

// Calculate computes the cost of printing one file: the per-page rate
// for the paper/color combination plus the finish delta, linear in
// pages and copies, scaled by the duplex factor when duplex is on.
func Calculate(table models.PriceTable, opts models.PrintOptions, pages int) (float64, error) {
	if pages <= 0 {
		return 0, fmt.Errorf("page count must be positive, got %d", pages)
	}
	copies := opts.Copies
	if copies <= 0 {
		copies = 1
	}

	rate, ok := table.Rates[models.RateKey(opts.PaperSize, opts.ColorMode)]
	if !ok {
		return 0, fmt.Errorf("no rate for %s %s", opts.PaperSize, opts.ColorMode)
	}
	unit := rate + table.FinishDeltas[string(opts.PaperType)]

	total := unit * float64(pages) * float64(copies)
	if opts.Duplex && table.DuplexFactor > 0 {
		total *= table.DuplexFactor
	}
	return total, nil
}

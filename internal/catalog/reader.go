// Package catalog lists the purchasable plans: active provider products
// joined with their active prices.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	stripe "github.com/stripe/stripe-go/v82"

	"storefront/internal/types"
)

// Default plan selection: every three months.
const (
	DefaultInterval      = "month"
	DefaultIntervalCount = 3
)

// Provider is the subset of the payment provider used to read the catalog.
type Provider interface {
	ListActiveProducts(ctx context.Context) ([]*stripe.Product, error)
	ListActivePrices(ctx context.Context) ([]*stripe.Price, error)
}

// Reader builds the product catalog.
type Reader struct {
	provider Provider
	logger   *slog.Logger
}

// NewReader creates a catalog Reader.
func NewReader(provider Provider, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{provider: provider, logger: logger}
}

// List fetches products and prices concurrently and joins them. Products
// without an active price are dropped; product order follows the provider.
func (r *Reader) List(ctx context.Context) ([]types.Product, error) {
	var (
		products []*stripe.Product
		prices   []*stripe.Price
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = r.provider.ListActiveProducts(gctx)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		prices, err = r.provider.ListActivePrices(gctx)
		if err != nil {
			return fmt.Errorf("listing prices: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		types.LoggerFromContext(ctx, r.logger).ErrorContext(ctx, "catalog fetch failed", slog.String("error", err.Error()))
		return nil, err
	}

	catalog := Join(products, prices)
	types.LoggerFromContext(ctx, r.logger).DebugContext(ctx, "catalog built",
		slog.Int("products", len(catalog)),
		slog.Int("prices", len(prices)),
	)
	return catalog, nil
}

// Join attaches each price to its parent product by id and drops products
// with no prices. A price's product may be expanded or a bare id.
func Join(products []*stripe.Product, prices []*stripe.Price) []types.Product {
	byProduct := make(map[string][]types.Plan, len(products))
	for _, price := range prices {
		if price == nil || price.Product == nil || price.Product.ID == "" {
			continue
		}
		byProduct[price.Product.ID] = append(byProduct[price.Product.ID], FormatPlan(price))
	}

	out := make([]types.Product, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		plans := byProduct[p.ID]
		if len(plans) == 0 {
			continue
		}
		out = append(out, types.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Active:      p.Active,
			Prices:      plans,
		})
	}
	return out
}

// FormatPlan shapes a provider price for display.
func FormatPlan(price *stripe.Price) types.Plan {
	plan := types.Plan{
		ID:         price.ID,
		UnitAmount: price.UnitAmount,
		Currency:   string(price.Currency),
		Nickname:   price.Nickname,
		Active:     price.Active,
	}
	if price.Product != nil {
		plan.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		interval := string(price.Recurring.Interval)
		count := price.Recurring.IntervalCount
		plan.Interval = &interval
		plan.IntervalCount = &count
	}
	if plan.Nickname == "" {
		plan.Nickname = Nickname(price.Recurring)
	}
	return plan
}

// Nickname derives "{count} {interval}" for a price without an explicit
// nickname. A missing count reads as 1 and a missing interval as one-time.
func Nickname(recurring *stripe.PriceRecurring) string {
	count := int64(1)
	interval := "one-time"
	if recurring != nil {
		if recurring.IntervalCount > 0 {
			count = recurring.IntervalCount
		}
		if recurring.Interval != "" {
			interval = string(recurring.Interval)
		}
	}
	return strconv.FormatInt(count, 10) + " " + interval
}

// DefaultPlan returns the first plan renewing every three months.
func DefaultPlan(products []types.Product) (types.Plan, bool) {
	for _, product := range products {
		for _, plan := range product.Prices {
			if plan.RecursEvery(DefaultInterval, DefaultIntervalCount) {
				return plan, true
			}
		}
	}
	return types.Plan{}, false
}

// FindPlan looks up a plan by price id.
func FindPlan(products []types.Product, priceID string) (types.Plan, bool) {
	for _, product := range products {
		for _, plan := range product.Prices {
			if plan.ID == priceID {
				return plan, true
			}
		}
	}
	return types.Plan{}, false
}

//go:build property
// +build property

// Property-based tests for the rate engine. Run with: go test -tags property ./internal/shipping
package shipping_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/region"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
)

type emptySettings struct{}

func (emptySettings) Load(context.Context, string) (region.Settings, error) {
	return region.Settings{}, nil
}

func newEngine() *shipping.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return shipping.NewEngine(emptySettings{}, nil, logger)
}

func kgItem(weightKg float64, qty int32) shipping.Item {
	w := weightKg
	return shipping.Item{Quantity: qty, WeightValue: &w, WeightUnit: "kg"}
}

// TestRatingAlwaysOffers verifies rating never leaves a cart without options.
// Property: len(Rates(input)) >= 1 for any destination, subtotal and weight
func TestRatingAlwaysOffers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	engine := newEngine()

	properties.Property("every rating request yields at least one offer", prop.ForAll(
		func(country, state string, subtotal int64, weightKg float64) bool {
			offers, err := engine.Rates(context.Background(), shipping.RateInput{
				Destination:   shipping.Destination{Country: country, State: state},
				SubtotalCents: subtotal,
				Items:         []shipping.Item{kgItem(weightKg, 1)},
			})
			return err == nil && len(offers) >= 1
		},
		gen.OneConstOf("US", "CA", "DE", "FR", "GB", "JP", "BR", "AU", "ZZ", ""),
		gen.OneConstOf("CA", "NY", "AK", "HI", ""),
		gen.Int64Range(0, 10_000_000),
		gen.Float64Range(0.01, 500),
	))

	properties.TestingRun(t)
}

// TestOffersArePayableOrManual verifies every offer is actionable.
// Property: an offer carries a non-negative price exactly when it does not
// require a manual quote
func TestOffersArePayableOrManual(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	engine := newEngine()

	properties.Property("offers are priced or flagged for manual quoting, never neither", prop.ForAll(
		func(country, state string, subtotal int64, weightKg float64) bool {
			offers, err := engine.Rates(context.Background(), shipping.RateInput{
				Destination:   shipping.Destination{Country: country, State: state},
				SubtotalCents: subtotal,
				Items:         []shipping.Item{kgItem(weightKg, 1)},
			})
			if err != nil {
				return false
			}
			for _, o := range offers {
				if o.RequiresManualQuote {
					if o.PriceCents != nil {
						return false
					}
					continue
				}
				if o.PriceCents == nil || *o.PriceCents < 0 {
					return false
				}
			}
			return true
		},
		gen.OneConstOf("US", "CA", "DE", "NO", "JP", "MX", ""),
		gen.OneConstOf("CA", "AK", "HI", ""),
		gen.Int64Range(0, 10_000_000),
		gen.Float64Range(0.01, 500),
	))

	properties.TestingRun(t)
}

// TestFreeShippingThreshold verifies the free tier boundary is exact.
// Property: lower-48 carts at or above the threshold ship free, below it
// they pay the flat rate
func TestFreeShippingThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	engine := newEngine()

	properties.Property("free shipping applies exactly at the threshold", prop.ForAll(
		func(subtotal int64) bool {
			offers, err := engine.Rates(context.Background(), shipping.RateInput{
				Destination:   shipping.Destination{Country: "US", State: "NY"},
				SubtotalCents: subtotal,
			})
			if err != nil || len(offers) != 1 {
				return false
			}
			price := offers[0].PriceCents
			if price == nil {
				return false
			}
			if subtotal >= 5000 {
				return *price == 0
			}
			return *price > 0
		},
		gen.Int64Range(0, 20_000),
	))

	properties.TestingRun(t)
}

// TestEuropePriceMonotonic verifies bracket pricing behaves like a tariff.
// Property: a heavier cart never ships for less, and no cart pays above
// the bracket cap
func TestEuropePriceMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	engine := newEngine()

	price := func(weightKg float64) int64 {
		offers, err := engine.Rates(context.Background(), shipping.RateInput{
			Destination: shipping.Destination{Country: "DE"},
			Items:       []shipping.Item{kgItem(weightKg, 1)},
		})
		if err != nil || len(offers) != 1 || offers[0].PriceCents == nil {
			return -1
		}
		return *offers[0].PriceCents
	}

	properties.Property("heavier carts never price lower and the cap holds", prop.ForAll(
		func(a, b float64) bool {
			lighter, heavier := a, b
			if lighter > heavier {
				lighter, heavier = heavier, lighter
			}
			pl, ph := price(lighter), price(heavier)
			if pl < 0 || ph < 0 {
				return false
			}
			return pl <= ph && ph <= 19999
		},
		gen.Float64Range(0.01, 200),
		gen.Float64Range(0.01, 200),
	))

	properties.TestingRun(t)
}

// TestSizeBucketsTotal verifies every cart lands in a bucket.
// Property: SizeFromItems returns S, M or L for any dimension data
func TestSizeBucketsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every cart gets a valid size bucket", prop.ForAll(
		func(length, width, height float64, unit string, withDims bool) bool {
			item := shipping.Item{Quantity: 1, DimUnit: unit}
			if withDims {
				item.DimLength, item.DimWidth, item.DimHeight = &length, &width, &height
			}
			switch shipping.SizeFromItems([]shipping.Item{item}) {
			case shipping.SizeSmall, shipping.SizeMedium, shipping.SizeLarge:
				return true
			}
			return false
		},
		gen.Float64Range(0.1, 500),
		gen.Float64Range(0.1, 500),
		gen.Float64Range(0.1, 500),
		gen.OneConstOf("in", "cm", ""),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

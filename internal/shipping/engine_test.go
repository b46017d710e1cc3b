package shipping

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/region"
)

type stubSettings struct {
	byRegion map[string]region.Settings
	err      error
}

func (s stubSettings) Load(_ context.Context, code string) (region.Settings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byRegion[code], nil
}

type stubCarrier struct {
	rates []CarrierRate
	err   error
	calls int
}

func (c *stubCarrier) Rate(context.Context, CarrierRequest) ([]CarrierRate, error) {
	c.calls++
	return c.rates, c.err
}

func testEngine(settings stubSettings, carrier Carrier) *Engine {
	return NewEngine(settings, carrier, slog.Default())
}

func ptrSize(s PackageSize) *PackageSize { return &s }

func TestRatesUSFreeAtThreshold(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination:   Destination{Country: "US", State: "CA"},
		SubtotalCents: 5000,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "free_shipping", offers[0].Method)
	require.NotNil(t, offers[0].PriceCents)
	assert.Equal(t, int64(0), *offers[0].PriceCents)
}

func TestRatesUSFlatBelowThreshold(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination:   Destination{Country: "US", State: "CA"},
		SubtotalCents: 4999,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "standard", offers[0].Method)
	require.NotNil(t, offers[0].PriceCents)
	assert.Equal(t, int64(999), *offers[0].PriceCents)
}

func TestRatesUSThresholdFromSettings(t *testing.T) {
	e := testEngine(stubSettings{byRegion: map[string]region.Settings{
		"US": {"free_shipping_threshold_cents": "10000", "flat_rate_cents": "1250"},
	}}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination:   Destination{Country: "US", State: "NY"},
		SubtotalCents: 5000,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "standard", offers[0].Method)
	assert.Equal(t, int64(1250), *offers[0].PriceCents)
}

func TestRatesAlaskaSmallPackage(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination:   Destination{Country: "US", State: "AK"},
		PackageSize:   ptrSize(SizeSmall),
		SubtotalCents: 12000,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "us_remote_flat", offers[0].Method)
	assert.Equal(t, int64(1999), *offers[0].PriceCents)
	assert.False(t, offers[0].RequiresManualQuote)
}

func TestRatesCanadaLargePackage(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination: Destination{Country: "CA"},
		PackageSize: ptrSize(SizeLarge),
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "canada_flat", offers[0].Method)
	assert.Equal(t, int64(4999), *offers[0].PriceCents)
}

func TestRatesEuropeWeightBrackets(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})
	kg := func(v float64) *float64 { return &v }

	cases := []struct {
		name     string
		weight   float64
		expected int64
	}{
		{"four kilos lands in the lowest bracket", 4, 2999},
		{"twenty kilos lands in the 15-30 bracket", 20, 7999},
		{"just under sixty", 59.5, 12999},
		{"above every bracket pays the cap", 75, 19999},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offers, err := e.Rates(context.Background(), RateInput{
				Destination: Destination{Country: "DE"},
				Items:       []Item{{Quantity: 1, WeightValue: kg(tc.weight), WeightUnit: "kg"}},
			})
			require.NoError(t, err)
			require.Len(t, offers, 1)
			assert.Equal(t, "weight_tier", offers[0].Method)
			require.NotNil(t, offers[0].PriceCents)
			assert.Equal(t, tc.expected, *offers[0].PriceCents)
		})
	}
}

func TestRatesEuropeDefaultsUnknownWeightToOneKgPerItem(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	// Six items with no recorded weight count as 6kg: second bracket.
	offers, err := e.Rates(context.Background(), RateInput{
		Destination: Destination{Country: "FR"},
		Items:       []Item{{Quantity: 6}},
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, int64(4999), *offers[0].PriceCents)
}

func TestRatesCarrierSuccess(t *testing.T) {
	carrier := &stubCarrier{rates: []CarrierRate{
		{Service: "Express", PriceCents: 8200, Currency: "USD", TransitDays: 3},
		{Service: "Economy", PriceCents: 4100, Currency: "USD", TransitDays: 10},
	}}
	e := testEngine(stubSettings{}, carrier)

	offers, err := e.Rates(context.Background(), RateInput{
		Destination: Destination{Country: "JP"},
	})

	require.NoError(t, err)
	require.Len(t, offers, 2)
	// Cheapest first.
	assert.Equal(t, "Economy", offers[0].Label)
	assert.Equal(t, int64(4100), *offers[0].PriceCents)
	require.NotNil(t, offers[0].TransitDays)
	assert.Equal(t, int32(10), *offers[0].TransitDays)
	assert.Equal(t, "Express", offers[1].Label)
}

func TestRatesCarrierFailureFallsBackToManualQuote(t *testing.T) {
	carrier := &stubCarrier{err: &CarrierError{Code: "ADDRESS_NOT_FOUND", Message: "no match"}}
	e := testEngine(stubSettings{}, carrier)

	offers, err := e.Rates(context.Background(), RateInput{
		Destination: Destination{Country: "BR"},
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "manual_quote", offers[0].Method)
	assert.Nil(t, offers[0].PriceCents)
	assert.True(t, offers[0].RequiresManualQuote)
}

func TestRatesCarrierEmptyResponseFallsBackToManualQuote(t *testing.T) {
	e := testEngine(stubSettings{}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination: Destination{Country: "AU"},
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.True(t, offers[0].RequiresManualQuote)
}

func TestRatesSettingsBackendDownUsesDefaults(t *testing.T) {
	e := testEngine(stubSettings{err: errors.New("redis and postgres both down")}, &stubCarrier{})

	offers, err := e.Rates(context.Background(), RateInput{
		Destination:   Destination{Country: "US", State: "TX"},
		SubtotalCents: 9000,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "free_shipping", offers[0].Method)
}

// Package shipping prices a cart for a destination. Domestic and
// European destinations are priced from region settings tables;
// everywhere else goes through live carrier rating with a manual-quote
// placeholder as the escape hatch. Rating never fails a checkout: the
// engine always returns at least one offer.
package shipping

import (
	"context"
	"log/slog"
	"sort"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/region"
)

type Destination struct {
	Country string `json:"country"`
	State   string `json:"state"`
}

// Offer is one way to ship the cart. PriceCents is nil only on the
// manual-quote placeholder.
type Offer struct {
	Method              string `json:"method"`
	Label               string `json:"label"`
	PriceCents          *int64 `json:"price_cents"`
	Currency            string `json:"currency"`
	TransitDays         *int32 `json:"transit_days,omitempty"`
	RequiresManualQuote bool   `json:"requires_manual_quote"`
}

type RateInput struct {
	Destination   Destination
	PackageSize   *PackageSize
	SubtotalCents int64
	Items         []Item
}

const (
	regionUS       = "US"
	regionUSRemote = "US-REMOTE"
	regionCanada   = "CA"
	regionEurope   = "EU"
)

// usRemoteStates are priced per package size instead of the lower-48
// flat rate.
var usRemoteStates = map[string]bool{"AK": true, "HI": true}

var europeanCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "CH": true, "CY": true,
	"CZ": true, "DE": true, "DK": true, "EE": true, "ES": true,
	"FI": true, "FR": true, "GB": true, "GR": true, "HR": true,
	"HU": true, "IE": true, "IS": true, "IT": true, "LI": true,
	"LT": true, "LU": true, "LV": true, "MT": true, "NL": true,
	"NO": true, "PL": true, "PT": true, "RO": true, "SE": true,
	"SI": true, "SK": true,
}

type weightBracket struct {
	maxKg float64
	key   string
	def   int64
}

// Bracket prices come from the EU region settings; the defaults below
// apply when a key is missing.
var europeBrackets = []weightBracket{
	{maxKg: 5, key: "bracket_under_5kg_cents", def: 2999},
	{maxKg: 15, key: "bracket_under_15kg_cents", def: 4999},
	{maxKg: 30, key: "bracket_under_30kg_cents", def: 7999},
	{maxKg: 60, key: "bracket_under_60kg_cents", def: 12999},
}

const europeCapKey = "bracket_cap_cents"
const europeCapDefault = 19999

// SettingsSource yields pricing tables per region code. Satisfied by
// region.Store.
type SettingsSource interface {
	Load(ctx context.Context, code string) (region.Settings, error)
}

type Engine struct {
	settings SettingsSource
	carrier  Carrier
	logger   *slog.Logger
}

func NewEngine(settings SettingsSource, carrier Carrier, logger *slog.Logger) *Engine {
	return &Engine{settings: settings, carrier: carrier, logger: logger}
}

// Rates prices the input and always returns at least one offer.
func (e *Engine) Rates(ctx context.Context, in RateInput) ([]Offer, error) {
	size := SizeMedium
	if in.PackageSize != nil {
		size = *in.PackageSize
	} else if len(in.Items) > 0 {
		size = SizeFromItems(in.Items)
	}

	switch {
	case in.Destination.Country == "US" && !usRemoteStates[in.Destination.State]:
		s := e.load(ctx, regionUS)
		return usOffers(in.SubtotalCents, s), nil

	case in.Destination.Country == "US":
		s := e.load(ctx, regionUSRemote)
		return []Offer{sizeFlatOffer("us_remote_flat", "Alaska / Hawaii shipping", size, s)}, nil

	case in.Destination.Country == "CA":
		s := e.load(ctx, regionCanada)
		return []Offer{sizeFlatOffer("canada_flat", "Canada shipping", size, s)}, nil

	case europeanCountries[in.Destination.Country]:
		s := e.load(ctx, regionEurope)
		return []Offer{europeOffer(totalWeightKg(in.Items), s)}, nil

	default:
		return e.carrierOffers(ctx, in.Destination, size, in.Items), nil
	}
}

// load tolerates a missing or unreachable settings backend; pricing
// falls back to the in-code defaults.
func (e *Engine) load(ctx context.Context, code string) region.Settings {
	s, err := e.settings.Load(ctx, code)
	if err != nil {
		e.logger.Warn("region settings unavailable, using defaults", "region", code, "error", err)
		return region.Settings{}
	}
	return s
}

func usOffers(subtotalCents int64, s region.Settings) []Offer {
	threshold := s.Cents("free_shipping_threshold_cents", 5000)
	if subtotalCents >= threshold {
		return []Offer{priced("free_shipping", "Free shipping", 0)}
	}
	return []Offer{priced("standard", "Standard shipping", s.Cents("flat_rate_cents", 999))}
}

func sizeFlatOffer(method, label string, size PackageSize, s region.Settings) Offer {
	var price int64
	switch size {
	case SizeSmall:
		price = s.Cents("flat_small_cents", 1999)
	case SizeLarge:
		price = s.Cents("flat_large_cents", 4999)
	default:
		price = s.Cents("flat_medium_cents", 2999)
	}
	return priced(method, label, price)
}

func europeOffer(weightKg float64, s region.Settings) Offer {
	for _, b := range europeBrackets {
		if weightKg < b.maxKg {
			return priced("weight_tier", "International shipping", s.Cents(b.key, b.def))
		}
	}
	return priced("weight_tier", "International shipping (oversize)", s.Cents(europeCapKey, europeCapDefault))
}

func (e *Engine) carrierOffers(ctx context.Context, dest Destination, size PackageSize, items []Item) []Offer {
	if e.carrier == nil {
		return []Offer{manualQuoteOffer()}
	}
	rates, err := e.carrier.Rate(ctx, CarrierRequest{
		Country:  dest.Country,
		State:    dest.State,
		Size:     size,
		WeightKg: totalWeightKg(items),
	})
	if err != nil || len(rates) == 0 {
		if err != nil {
			e.logger.Warn("carrier rating failed, offering manual quote",
				"country", dest.Country, "error", err)
		}
		return []Offer{manualQuoteOffer()}
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i].PriceCents < rates[j].PriceCents })
	offers := make([]Offer, 0, len(rates))
	for _, r := range rates {
		price := r.PriceCents
		transit := r.TransitDays
		offers = append(offers, Offer{
			Method:      "carrier",
			Label:       r.Service,
			PriceCents:  &price,
			Currency:    "USD",
			TransitDays: &transit,
		})
	}
	return offers
}

func manualQuoteOffer() Offer {
	return Offer{
		Method:              "manual_quote",
		Label:               "Contact support for a shipping quote",
		Currency:            "USD",
		RequiresManualQuote: true,
	}
}

func priced(method, label string, cents int64) Offer {
	return Offer{Method: method, Label: label, PriceCents: &cents, Currency: "USD"}
}

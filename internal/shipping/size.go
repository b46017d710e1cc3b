package shipping

import "fmt"

type PackageSize string

const (
	SizeSmall  PackageSize = "S"
	SizeMedium PackageSize = "M"
	SizeLarge  PackageSize = "L"
)

func ParsePackageSize(s string) (PackageSize, error) {
	switch PackageSize(s) {
	case SizeSmall, SizeMedium, SizeLarge:
		return PackageSize(s), nil
	}
	return "", fmt.Errorf("unknown package size %q", s)
}

// Item carries the physical attributes the engine needs. Nil values
// mean the product record has no data for that attribute.
type Item struct {
	Quantity    int32
	WeightValue *float64
	WeightUnit  string
	DimLength   *float64
	DimWidth    *float64
	DimHeight   *float64
	DimUnit     string
}

// SizeFromItems buckets the cart by its single largest dimension in
// inches: under 12 is small, up to 24 is medium, above that large.
// Carts with no dimensional data at all ship as medium.
func SizeFromItems(items []Item) PackageSize {
	longest := 0.0
	seen := false
	for _, it := range items {
		for _, d := range []*float64{it.DimLength, it.DimWidth, it.DimHeight} {
			if d == nil {
				continue
			}
			seen = true
			if v := toInches(*d, it.DimUnit); v > longest {
				longest = v
			}
		}
	}
	if !seen {
		return SizeMedium
	}
	switch {
	case longest < 12:
		return SizeSmall
	case longest <= 24:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// totalWeightKg sums item weight times quantity. Items without a
// recorded weight count as one kilogram per unit so a cart of unknowns
// still lands in a sane bracket.
func totalWeightKg(items []Item) float64 {
	total := 0.0
	for _, it := range items {
		unit := 1.0
		if it.WeightValue != nil {
			unit = toKilograms(*it.WeightValue, it.WeightUnit)
		}
		total += unit * float64(it.Quantity)
	}
	return total
}

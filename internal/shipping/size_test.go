package shipping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestSizeFromItems(t *testing.T) {
	cases := []struct {
		name  string
		items []Item
		want  PackageSize
	}{
		{
			name: "small under twelve inches",
			items: []Item{
				{Quantity: 1, DimLength: f(10), DimWidth: f(4), DimHeight: f(2), DimUnit: "in"},
			},
			want: SizeSmall,
		},
		{
			name: "medium at the boundary",
			items: []Item{
				{Quantity: 1, DimLength: f(12), DimUnit: "in"},
			},
			want: SizeMedium,
		},
		{
			name: "large above twenty four",
			items: []Item{
				{Quantity: 1, DimLength: f(30), DimUnit: "in"},
			},
			want: SizeLarge,
		},
		{
			name: "centimeters are converted",
			items: []Item{
				// 70cm is about 27.6in.
				{Quantity: 1, DimLength: f(70), DimUnit: "cm"},
			},
			want: SizeLarge,
		},
		{
			name: "largest dimension across the cart wins",
			items: []Item{
				{Quantity: 2, DimLength: f(8), DimUnit: "in"},
				{Quantity: 1, DimWidth: f(15), DimUnit: "in"},
			},
			want: SizeMedium,
		},
		{
			name:  "no dimensional data defaults to medium",
			items: []Item{{Quantity: 3}},
			want:  SizeMedium,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SizeFromItems(tc.items))
		})
	}
}

func TestParsePackageSize(t *testing.T) {
	s, err := ParsePackageSize("L")
	require.NoError(t, err)
	assert.Equal(t, SizeLarge, s)

	_, err = ParsePackageSize("XL")
	assert.Error(t, err)
}

func TestTotalWeightConversions(t *testing.T) {
	assert.InDelta(t, 2.5, totalWeightKg([]Item{
		{Quantity: 1, WeightValue: f(2500), WeightUnit: "g"},
	}), 0.001)

	assert.InDelta(t, 0.907, totalWeightKg([]Item{
		{Quantity: 2, WeightValue: f(1), WeightUnit: "lb"},
	}), 0.001)

	assert.InDelta(t, 0.284, totalWeightKg([]Item{
		{Quantity: 10, WeightValue: f(1), WeightUnit: "oz"},
	}), 0.001)

	// Unknown weight counts as one kilogram per unit.
	assert.InDelta(t, 4, totalWeightKg([]Item{{Quantity: 4}}), 0.001)
}

package shipping

// Product weights and dimensions are stored in whatever unit the
// merchandiser entered. The engine works in kilograms and inches.

const (
	kgPerLb = 0.45359237
	kgPerOz = 0.028349523125
	inPerCm = 1.0 / 2.54
)

func toKilograms(value float64, unit string) float64 {
	switch unit {
	case "kg":
		return value
	case "g":
		return value / 1000
	case "lb":
		return value * kgPerLb
	case "oz":
		return value * kgPerOz
	default:
		return value
	}
}

func toInches(value float64, unit string) float64 {
	switch unit {
	case "in":
		return value
	case "cm":
		return value * inPerCm
	default:
		return value
	}
}

package utility

import (
	"fmt"
	"strconv"
	"strings"
)

// unitKind identifies one convertible unit.
type unitKind int

const (
	unitNone unitKind = iota
	unitCelsius
	unitFahrenheit
	unitKelvin
	unitKilometer
	unitMile
	unitMeter
	unitFoot
)

// dimension groups units that convert into each other.
type dimension int

const (
	dimNone dimension = iota
	dimTemperature
	dimDistance
)

// unitNames maps every accepted spelling to its unit. Bare "k" means
// Kelvin, never kilometers.
var unitNames = map[string]unitKind{
	"c":          unitCelsius,
	"°c":         unitCelsius,
	"celsius":    unitCelsius,
	"centigrade": unitCelsius,
	"f":          unitFahrenheit,
	"°f":         unitFahrenheit,
	"fahrenheit": unitFahrenheit,
	"k":          unitKelvin,
	"kelvin":     unitKelvin,

	"km":         unitKilometer,
	"kilometer":  unitKilometer,
	"kilometers": unitKilometer,
	"kilometre":  unitKilometer,
	"kilometres": unitKilometer,
	"mi":         unitMile,
	"mile":       unitMile,
	"miles":      unitMile,
	"m":          unitMeter,
	"meter":      unitMeter,
	"meters":     unitMeter,
	"metre":      unitMeter,
	"metres":     unitMeter,
	"ft":         unitFoot,
	"foot":       unitFoot,
	"feet":       unitFoot,
}

func parseUnit(s string) unitKind {
	u, ok := unitNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return unitNone
	}
	return u
}

func unitDimension(u unitKind) dimension {
	switch u {
	case unitCelsius, unitFahrenheit, unitKelvin:
		return dimTemperature
	case unitKilometer, unitMile, unitMeter, unitFoot:
		return dimDistance
	default:
		return dimNone
	}
}

func unitSymbol(u unitKind) string {
	switch u {
	case unitCelsius:
		return "°C"
	case unitFahrenheit:
		return "°F"
	case unitKelvin:
		return "K"
	case unitKilometer:
		return "km"
	case unitMile:
		return "mi"
	case unitMeter:
		return "m"
	case unitFoot:
		return "ft"
	default:
		return ""
	}
}

// convert translates value between units of the same dimension.
func convert(value float64, from, to unitKind) (float64, bool) {
	dim := unitDimension(from)
	if dim == dimNone || dim != unitDimension(to) {
		return 0, false
	}
	switch dim {
	case dimTemperature:
		return fromCelsius(toCelsius(value, from), to), true
	case dimDistance:
		return fromMeters(toMeters(value, from), to), true
	}
	return 0, false
}

func toCelsius(v float64, from unitKind) float64 {
	switch from {
	case unitFahrenheit:
		return (v - 32) * 5 / 9
	case unitKelvin:
		return v - 273.15
	default:
		return v
	}
}

func fromCelsius(c float64, to unitKind) float64 {
	switch to {
	case unitFahrenheit:
		return c*9/5 + 32
	case unitKelvin:
		return c + 273.15
	default:
		return c
	}
}

func toMeters(v float64, from unitKind) float64 {
	switch from {
	case unitKilometer:
		return v * 1000
	case unitMile:
		return v * 1609.344
	case unitFoot:
		return v * 0.3048
	default:
		return v
	}
}

func fromMeters(m float64, to unitKind) float64 {
	switch to {
	case unitKilometer:
		return m / 1000
	case unitMile:
		return m / 1609.344
	case unitFoot:
		return m / 0.3048
	default:
		return m
	}
}

// formatConverted renders a converted value with the dimension's precision:
// temperatures always carry one decimal (Kelvin included), distances two.
func formatConverted(value float64, to unitKind) string {
	switch unitDimension(to) {
	case dimTemperature:
		return fmt.Sprintf("%.1f%s", value, unitSymbol(to))
	case dimDistance:
		return fmt.Sprintf("%.2f %s", value, unitSymbol(to))
	default:
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
}

// formatQuantity renders the input side of a conversion with the value as
// the user gave it.
func formatQuantity(value float64, u unitKind) string {
	number := strconv.FormatFloat(value, 'f', -1, 64)
	if unitDimension(u) == dimTemperature {
		return number + unitSymbol(u)
	}
	return number + " " + unitSymbol(u)
}

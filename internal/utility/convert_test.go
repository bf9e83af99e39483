package utility

import (
	"math"
	"testing"
)

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in   string
		want unitKind
	}{
		{"c", unitCelsius},
		{"°C", unitCelsius},
		{"Celsius", unitCelsius},
		{"centigrade", unitCelsius},
		{"F", unitFahrenheit},
		{"fahrenheit", unitFahrenheit},
		{"k", unitKelvin},
		{"K", unitKelvin},
		{"kelvin", unitKelvin},
		{"km", unitKilometer},
		{"kilometres", unitKilometer},
		{"mi", unitMile},
		{"miles", unitMile},
		{"m", unitMeter},
		{"metres", unitMeter},
		{"ft", unitFoot},
		{"feet", unitFoot},
		{"parsec", unitNone},
		{"", unitNone},
	}
	for _, tt := range tests {
		if got := parseUnit(tt.in); got != tt.want {
			t.Errorf("parseUnit(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		from  unitKind
		to    unitKind
		want  float64
		ok    bool
	}{
		{"fahrenheit to celsius", 350, unitFahrenheit, unitCelsius, 176.6666666666667, true},
		{"celsius to fahrenheit", 100, unitCelsius, unitFahrenheit, 212, true},
		{"celsius to kelvin", 0, unitCelsius, unitKelvin, 273.15, true},
		{"kelvin to celsius", 273.15, unitKelvin, unitCelsius, 0, true},
		{"miles to kilometers", 5, unitMile, unitKilometer, 8.04672, true},
		{"kilometers to miles", 10, unitKilometer, unitMile, 6.2137119224, true},
		{"miles to feet", 1, unitMile, unitFoot, 5280, true},
		{"meters to feet", 0.3048, unitMeter, unitFoot, 1, true},
		{"cross dimension", 5, unitCelsius, unitKilometer, 0, false},
		{"unknown source", 5, unitNone, unitKilometer, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := convert(tt.value, tt.from, tt.to)
			if ok != tt.ok {
				t.Fatalf("convert(%v, %v, %v) ok = %v, want %v", tt.value, tt.from, tt.to, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("convert(%v, %v, %v) = %v, want %v", tt.value, tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestFormatConverted(t *testing.T) {
	tests := []struct {
		value float64
		unit  unitKind
		want  string
	}{
		{176.66666666666666, unitCelsius, "176.7°C"},
		{212, unitFahrenheit, "212.0°F"},
		{273.15, unitKelvin, "273.1K"},
		{8.04672, unitKilometer, "8.05 km"},
		{6.2137119224, unitMile, "6.21 mi"},
		{5280, unitFoot, "5280.00 ft"},
	}
	for _, tt := range tests {
		if got := formatConverted(tt.value, tt.unit); got != tt.want {
			t.Errorf("formatConverted(%v, %v) = %q, want %q", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		value float64
		unit  unitKind
		want  string
	}{
		{350, unitFahrenheit, "350°F"},
		{20.5, unitCelsius, "20.5°C"},
		{5, unitMile, "5 mi"},
		{2.5, unitKilometer, "2.5 km"},
	}
	for _, tt := range tests {
		if got := formatQuantity(tt.value, tt.unit); got != tt.want {
			t.Errorf("formatQuantity(%v, %v) = %q, want %q", tt.value, tt.unit, got, tt.want)
		}
	}
}

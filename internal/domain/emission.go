package domain

import "math"

// EmissionWeights is tonnes of CO2 per unit of generation for the emitting
// categories. Every other category contributes 0.
var EmissionWeights = map[Category]float64{
	Coal:               1.00,
	GasOilTurbine:      0.55,
	OilThermal:         0.80,
	OtherBiomassDiesel: 0.20,
}

// Emission returns the weighted sum of the emitting categories in metrics,
// rounded to 2 decimals. Missing and NaN values count as 0.
func Emission(metrics map[string]float64) float64 {
	var total float64
	for _, c := range Categories {
		w, weighted := EmissionWeights[c]
		if !weighted {
			continue
		}
		v, ok := metrics[string(c)]
		if !ok || math.IsNaN(v) {
			continue
		}
		total += v * w
	}
	return Round2(total)
}

// Round2 rounds x to 2 decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

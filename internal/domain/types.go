// Package domain defines the core types shared across gridcarbon: the daily
// generation record, the fixed category schema, and the emission weights.
package domain

// Category is the canonical key of one generation source.
type Category string

const (
	Hydro                  Category = "hydro"
	Coal                   Category = "coal"
	GasOilTurbine          Category = "gas_oil_turbine"
	OilThermal             Category = "oil_thermal"
	Wind                   Category = "wind"
	SolarFarm              Category = "solar_farm"
	RooftopSolarCommercial Category = "rooftop_solar_commercial"
	RooftopSolarTerminal   Category = "rooftop_solar_terminal"
	Import                 Category = "import"
	OtherBiomassDiesel     Category = "other_biomass_diesel"
)

// Categories lists the persisted metric columns in schema order.
var Categories = []Category{
	Hydro,
	Coal,
	GasOilTurbine,
	OilThermal,
	Wind,
	SolarFarm,
	RooftopSolarCommercial,
	RooftopSolarTerminal,
	Import,
	OtherBiomassDiesel,
}

const (
	// DayColumn is the header of the key column.
	DayColumn = "Day"
	// EmissionColumn is the header of the derived column, always last.
	EmissionColumn = "carbon_tco2"
)

// Columns returns the full persisted header: Day, the categories in schema
// order, then the emission column.
func Columns() []string {
	cols := make([]string, 0, len(Categories)+2)
	cols = append(cols, DayColumn)
	for _, c := range Categories {
		cols = append(cols, string(c))
	}
	return append(cols, EmissionColumn)
}

// DayRecord is one calendar day's observation.
type DayRecord struct {
	// Day is the canonical YYYY-MM-DD date.
	Day string `json:"day"`
	// Metrics maps a category (or an unknown source label) to its value.
	// Absent keys read as 0.
	Metrics map[string]float64 `json:"metrics"`
	// Emission is derived from Metrics by Emission().
	Emission float64 `json:"emission"`
}

// Value returns the metric for c, or 0 when absent.
func (r DayRecord) Value(c Category) float64 {
	return r.Metrics[string(c)]
}

// Complete returns a copy of r whose Metrics holds every schema category
// (missing ones filled with 0) and whose Emission is recomputed.
func (r DayRecord) Complete() DayRecord {
	metrics := make(map[string]float64, len(Categories))
	for _, c := range Categories {
		metrics[string(c)] = r.Metrics[string(c)]
	}
	return DayRecord{
		Day:      r.Day,
		Metrics:  metrics,
		Emission: Emission(metrics),
	}
}

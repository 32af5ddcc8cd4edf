package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/util"
)

// ParquetStore holds a columnar copy of the day table in a single file,
// rewritten whole on every export.
type ParquetStore struct {
	Path string
}

// NewParquetStore creates a new ParquetStore writing to path.
func NewParquetStore(path string) *ParquetStore {
	return &ParquetStore{Path: path}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// DayRow is the Parquet schema for one day of the table. Field order
// follows the CSV column order.
type DayRow struct {
	Day                    int32   `parquet:"day,date"`
	Hydro                  float64 `parquet:"hydro"`
	Coal                   float64 `parquet:"coal"`
	GasOilTurbine          float64 `parquet:"gas_oil_turbine"`
	OilThermal             float64 `parquet:"oil_thermal"`
	Wind                   float64 `parquet:"wind"`
	SolarFarm              float64 `parquet:"solar_farm"`
	RooftopSolarCommercial float64 `parquet:"rooftop_solar_commercial"`
	RooftopSolarTerminal   float64 `parquet:"rooftop_solar_terminal"`
	Import                 float64 `parquet:"import"`
	OtherBiomassDiesel     float64 `parquet:"other_biomass_diesel"`
	CarbonTCO2             float64 `parquet:"carbon_tco2"`
}

// toDayRow converts a record; days are stored as days since the Unix epoch.
func toDayRow(rec domain.DayRecord) (DayRow, error) {
	t, err := domain.ParseDay(rec.Day)
	if err != nil {
		return DayRow{}, fmt.Errorf("day %q: %w", rec.Day, err)
	}
	full := rec.Complete()
	return DayRow{
		Day:                    int32(t.Unix() / 86400),
		Hydro:                  full.Value(domain.Hydro),
		Coal:                   full.Value(domain.Coal),
		GasOilTurbine:          full.Value(domain.GasOilTurbine),
		OilThermal:             full.Value(domain.OilThermal),
		Wind:                   full.Value(domain.Wind),
		SolarFarm:              full.Value(domain.SolarFarm),
		RooftopSolarCommercial: full.Value(domain.RooftopSolarCommercial),
		RooftopSolarTerminal:   full.Value(domain.RooftopSolarTerminal),
		Import:                 full.Value(domain.Import),
		OtherBiomassDiesel:     full.Value(domain.OtherBiomassDiesel),
		CarbonTCO2:             full.Emission,
	}, nil
}

func unixDay(d int32) time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (r DayRow) toRecord() domain.DayRecord {
	day := domain.FormatDay(unixDay(r.Day))
	return domain.DayRecord{
		Day: day,
		Metrics: map[string]float64{
			string(domain.Hydro):                  r.Hydro,
			string(domain.Coal):                   r.Coal,
			string(domain.GasOilTurbine):          r.GasOilTurbine,
			string(domain.OilThermal):             r.OilThermal,
			string(domain.Wind):                   r.Wind,
			string(domain.SolarFarm):              r.SolarFarm,
			string(domain.RooftopSolarCommercial): r.RooftopSolarCommercial,
			string(domain.RooftopSolarTerminal):   r.RooftopSolarTerminal,
			string(domain.Import):                 r.Import,
			string(domain.OtherBiomassDiesel):     r.OtherBiomassDiesel,
		},
		Emission: r.CarbonTCO2,
	}
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// WriteDays replaces the file with days, sorted by day. Records with an
// invalid day are skipped; for a repeated day the last record wins.
func (s *ParquetStore) WriteDays(_ context.Context, days []domain.DayRecord) (int, error) {
	byDay := make(map[int32]DayRow, len(days))
	for _, d := range days {
		row, err := toDayRow(d)
		if err != nil {
			continue
		}
		byDay[row.Day] = row
	}

	rows := make([]DayRow, 0, len(byDay))
	for _, r := range byDay {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })

	if err := writeParquetFile(s.Path, rows); err != nil {
		return 0, fmt.Errorf("writing parquet %s: %w", s.Path, err)
	}
	return len(rows), nil
}

// ReadDays reads the exported table back. A missing file yields no days.
func (s *ParquetStore) ReadDays(_ context.Context) ([]domain.DayRecord, error) {
	rows, err := readParquetFile[DayRow](s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.DayRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return err
	}
	return util.WriteFileAtomic(path, buf.Bytes())
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

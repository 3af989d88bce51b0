package models

import (
	"database/sql"
	"time"
)

// WineSample is one row of the red wine quality archive.
type WineSample struct {
	FixedAcidity       float64
	VolatileAcidity    float64
	CitricAcid         float64
	ResidualSugar      float64
	Chlorides          float64
	FreeSulfurDioxide  float64
	TotalSulfurDioxide float64
	Density            float64
	PH                 float64
	Sulphates          float64
	Alcohol            float64
	Quality            int
}

// WeatherDay is one day of the archive weather feed.
type WeatherDay struct {
	Date        time.Time
	Temperature sql.NullFloat64 // temperature_2m_mean
	Rain        sql.NullFloat64 // rain_sum
}

// CountryRow is one scraped table row before cleaning.
type CountryRow struct {
	Category string
	Raw1     string
	Raw2     string
	Raw3     string
}

// YearWine is a wine sample with its synthetic vintage year.
type YearWine struct {
	WineSample
	Year int
}

// YearlyWeather is the weather aggregated over one calendar year.
type YearlyWeather struct {
	Year        int
	Temperature sql.NullFloat64 // mean of daily means
	Rain        sql.NullFloat64 // sum of daily sums
}

// EnrichedWine is a wine sample joined with its year's weather.
// Temperature and Rain are null when the year has no weather.
type EnrichedWine struct {
	ID int64
	YearWine
	Temperature sql.NullFloat64
	Rain        sql.NullFloat64
}

// CountryReference is a cleaned country production row.
type CountryReference struct {
	ID     int64  `json:"id"`
	Name   string `json:"pays"`
	Volume int64  `json:"volume_production"`
}

// Features is the ordered training feature vector of an enriched wine.
// Order matches FeatureColumns in the store.
func (w EnrichedWine) Features() ([]float64, bool) {
	if !w.Temperature.Valid || !w.Rain.Valid {
		return nil, false
	}
	return []float64{
		w.FixedAcidity,
		w.VolatileAcidity,
		w.CitricAcid,
		w.ResidualSugar,
		w.Chlorides,
		w.FreeSulfurDioxide,
		w.TotalSulfurDioxide,
		w.Density,
		w.PH,
		w.Sulphates,
		w.Alcohol,
		w.Temperature.Float64,
		w.Rain.Float64,
	}, true
}

// PipelineRun is an audit record of one stage execution.
type PipelineRun struct {
	ID           string
	Stage        string // "fetch", "process", "train"
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	Rows         sql.NullInt64
	ErrorMessage sql.NullString
}

// Benchmark is the held-out evaluation of one candidate model.
type Benchmark struct {
	RunID    string
	Model    string
	MSE      float64
	R2       float64
	Selected bool
}

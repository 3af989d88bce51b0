package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Sources describes where the three raw datasets come from.
type Sources struct {
	Weather   WeatherSource `yaml:"weather"`
	WineURL   string        `yaml:"wine_url"`
	Countries string        `yaml:"countries_url"`
}

// WeatherSource is an Open-Meteo archive query.
type WeatherSource struct {
	URL       string  `yaml:"url"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	StartDate string  `yaml:"start_date"`
	EndDate   string  `yaml:"end_date"`
	Daily     string  `yaml:"daily"`
}

// Paths holds every file the pipeline reads or writes.
type Paths struct {
	WineCSV    string
	WeatherCSV string
	CountryCSV string
	DB         string
	Model      string
}

// DefaultSources returns the Bordeaux 2010-2020 setup.
func DefaultSources() Sources {
	return Sources{
		Weather: WeatherSource{
			URL:       "https://archive-api.open-meteo.com/v1/archive",
			Latitude:  44.8,
			Longitude: -0.5,
			StartDate: "2010-01-01",
			EndDate:   "2020-12-31",
			Daily:     "temperature_2m_mean,rain_sum",
		},
		WineURL:   "https://archive.ics.uci.edu/ml/machine-learning-databases/wine-quality/winequality-red.csv",
		Countries: "https://en.wikipedia.org/wiki/List_of_wine-producing_countries",
	}
}

// NewPaths lays out the raw artifacts under dataDir/raw.
func NewPaths(dataDir, dbPath, modelPath string) Paths {
	raw := filepath.Join(dataDir, "raw")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "viti_quality.db")
	}
	return Paths{
		WineCSV:    filepath.Join(raw, "wine_quality.csv"),
		WeatherCSV: filepath.Join(raw, "meteo_bordeaux.csv"),
		CountryCSV: filepath.Join(raw, "wine_production_by_country.csv"),
		DB:         dbPath,
		Model:      modelPath,
	}
}

// LoadSources reads a YAML source catalogue on top of the defaults.
// An empty path returns the defaults.
func LoadSources(path string) (Sources, error) {
	src := DefaultSources()
	if path == "" {
		return src, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Sources{}, fmt.Errorf("read sources: %w", err)
	}
	if err := yaml.Unmarshal(b, &src); err != nil {
		return Sources{}, fmt.Errorf("parse sources %s: %w", path, err)
	}
	if err := src.Validate(); err != nil {
		return Sources{}, fmt.Errorf("sources %s: %w", path, err)
	}
	return src, nil
}

// Validate reports missing source locations.
func (s Sources) Validate() error {
	var errs []error
	if s.Weather.URL == "" {
		errs = append(errs, errors.New("weather.url is required"))
	}
	if s.Weather.StartDate == "" || s.Weather.EndDate == "" {
		errs = append(errs, errors.New("weather.start_date and weather.end_date are required"))
	}
	if s.WineURL == "" {
		errs = append(errs, errors.New("wine_url is required"))
	}
	if s.Countries == "" {
		errs = append(errs, errors.New("countries_url is required"))
	}
	return errors.Join(errs...)
}

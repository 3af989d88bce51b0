package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lox/elyos/internal/models"
)

// ErrSource marks a raw artifact that is missing or cannot be parsed.
var ErrSource = errors.New("bad source file")

var wineHeader = []string{
	"fixed acidity", "volatile acidity", "citric acid", "residual sugar", "chlorides",
	"free sulfur dioxide", "total sulfur dioxide", "density", "pH", "sulphates", "alcohol", "quality",
}

// readCSV opens path and returns its header index and data records.
func readCSV(path string, comma rune) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrSource, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s header: %w", ErrSource, path, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %w", ErrSource, path, err)
	}
	return index, records, nil
}

func requireColumns(path string, index map[string]int, cols []string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing columns: %s", ErrSource, path, strings.Join(missing, ", "))
	}
	return nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ReadWines parses the semicolon separated red wine archive.
func ReadWines(path string) ([]models.WineSample, error) {
	index, records, err := readCSV(path, ';')
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, index, wineHeader); err != nil {
		return nil, err
	}

	wines := make([]models.WineSample, 0, len(records))
	for n, rec := range records {
		var v [11]float64
		for i, col := range wineHeader[:11] {
			v[i], err = strconv.ParseFloat(field(rec, index[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %s: %w", ErrSource, path, n+2, col, err)
			}
		}
		q, err := strconv.ParseFloat(field(rec, index["quality"]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: quality: %w", ErrSource, path, n+2, err)
		}
		wines = append(wines, models.WineSample{
			FixedAcidity:       v[0],
			VolatileAcidity:    v[1],
			CitricAcid:         v[2],
			ResidualSugar:      v[3],
			Chlorides:          v[4],
			FreeSulfurDioxide:  v[5],
			TotalSulfurDioxide: v[6],
			Density:            v[7],
			PH:                 v[8],
			Sulphates:          v[9],
			Alcohol:            v[10],
			Quality:            int(q),
		})
	}
	if len(wines) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrSource, path)
	}
	return wines, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseNullable(s string) (v float64, ok bool, err error) {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	return v, err == nil, err
}

// ReadWeather parses the daily weather artifact. Empty cells are nulls.
func ReadWeather(path string) ([]models.WeatherDay, error) {
	index, records, err := readCSV(path, ',')
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, index, []string{"time", "temperature_2m_mean", "rain_sum"}); err != nil {
		return nil, err
	}

	days := make([]models.WeatherDay, 0, len(records))
	for n, rec := range records {
		date, err := parseDate(field(rec, index["time"]))
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: time: %w", ErrSource, path, n+2, err)
		}
		day := models.WeatherDay{Date: date}
		if day.Temperature.Float64, day.Temperature.Valid, err = parseNullable(field(rec, index["temperature_2m_mean"])); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: temperature_2m_mean: %w", ErrSource, path, n+2, err)
		}
		if day.Rain.Float64, day.Rain.Valid, err = parseNullable(field(rec, index["rain_sum"])); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: rain_sum: %w", ErrSource, path, n+2, err)
		}
		days = append(days, day)
	}
	return days, nil
}

// ReadCountries parses the scraped country table artifact.
func ReadCountries(path string) ([]models.CountryRow, error) {
	index, records, err := readCSV(path, ',')
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, index, []string{"Raw_Data_1", "Raw_Data_2"}); err != nil {
		return nil, err
	}

	cat, hasCat := index["Category_Index"]
	raw3, hasRaw3 := index["Raw_Data_3"]
	rows := make([]models.CountryRow, 0, len(records))
	for _, rec := range records {
		row := models.CountryRow{
			Raw1: field(rec, index["Raw_Data_1"]),
			Raw2: field(rec, index["Raw_Data_2"]),
		}
		if hasCat {
			row.Category = field(rec, cat)
		}
		if hasRaw3 {
			row.Raw3 = field(rec, raw3)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

package etl

import (
	"database/sql"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/lox/elyos/internal/models"
)

// Synthetic vintage range, inclusive.
const (
	MinYear = 2010
	MaxYear = 2020
)

// NewRand returns the seeded source used for year assignment.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// AssignYears gives every wine an independent uniformly drawn year in
// [MinYear, MaxYear]. The same seed yields the same years.
func AssignYears(wines []models.WineSample, rng *rand.Rand) []models.YearWine {
	out := make([]models.YearWine, len(wines))
	for i, w := range wines {
		out[i] = models.YearWine{
			WineSample: w,
			Year:       MinYear + rng.IntN(MaxYear-MinYear+1),
		}
	}
	return out
}

// AggregateWeather groups days by calendar year: mean temperature and total
// rain over the non-null values. A year with no temperature reading has a
// null mean; its rain total is 0 when every reading is null. Output is
// ordered by year.
func AggregateWeather(days []models.WeatherDay) []models.YearlyWeather {
	type acc struct {
		tempSum float64
		tempN   int
		rainSum float64
	}
	byYear := make(map[int]*acc)
	for _, d := range days {
		y := d.Date.Year()
		a := byYear[y]
		if a == nil {
			a = &acc{}
			byYear[y] = a
		}
		if d.Temperature.Valid {
			a.tempSum += d.Temperature.Float64
			a.tempN++
		}
		if d.Rain.Valid {
			a.rainSum += d.Rain.Float64
		}
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]models.YearlyWeather, 0, len(years))
	for _, y := range years {
		a := byYear[y]
		yw := models.YearlyWeather{
			Year: y,
			Rain: sql.NullFloat64{Float64: a.rainSum, Valid: true},
		}
		if a.tempN > 0 {
			yw.Temperature = sql.NullFloat64{Float64: a.tempSum / float64(a.tempN), Valid: true}
		}
		out = append(out, yw)
	}
	return out
}

// ParseVolume reads a production figure such as "5,088,500" or "4 200 000".
// Decimals are truncated; anything unparseable or negative is 0.
func ParseVolume(s string) int64 {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return 0
	}
	if v, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return max(v, 0)
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || f <= 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

// CleanCountries maps the positional scrape columns to the country reference:
// Raw_Data_1 is the name, Raw_Data_2 the production volume.
func CleanCountries(rows []models.CountryRow) []models.CountryReference {
	out := make([]models.CountryReference, len(rows))
	for i, r := range rows {
		out[i] = toCountryReference(r)
	}
	return out
}

func toCountryReference(r models.CountryRow) models.CountryReference {
	return models.CountryReference{
		Name:   strings.TrimSpace(r.Raw1),
		Volume: ParseVolume(r.Raw2),
	}
}

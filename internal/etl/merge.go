package etl

import "github.com/lox/elyos/internal/models"

// Merge left-joins wines to yearly weather on year. Every wine is kept in
// input order; a year with no weather leaves Temperature and Rain null.
func Merge(wines []models.YearWine, weather []models.YearlyWeather) []models.EnrichedWine {
	byYear := make(map[int]models.YearlyWeather, len(weather))
	for _, w := range weather {
		byYear[w.Year] = w
	}

	out := make([]models.EnrichedWine, len(wines))
	for i, w := range wines {
		e := models.EnrichedWine{YearWine: w}
		if yw, ok := byYear[w.Year]; ok {
			e.Temperature = yw.Temperature
			e.Rain = yw.Rain
		}
		out[i] = e
	}
	return out
}

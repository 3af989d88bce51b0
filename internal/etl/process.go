package etl

import (
	"context"
	"fmt"
	"log"

	"github.com/lox/elyos/internal/config"
	"github.com/lox/elyos/internal/models"
)

// Loader persists the two final tables.
type Loader interface {
	ReplaceWines(ctx context.Context, rows []models.EnrichedWine) error
	ReplaceCountries(ctx context.Context, rows []models.CountryReference) error
}

// Result counts the rows written by Process.
type Result struct {
	Wines          int
	WinesNoWeather int
	Countries      int
}

// Process reads the three raw artifacts, cleans and merges them and replaces
// both tables. A missing or malformed artifact fails with ErrSource before
// anything is written.
func Process(ctx context.Context, paths config.Paths, loader Loader, seed uint64) (Result, error) {
	wines, err := ReadWines(paths.WineCSV)
	if err != nil {
		return Result{}, fmt.Errorf("read wines: %w", err)
	}
	days, err := ReadWeather(paths.WeatherCSV)
	if err != nil {
		return Result{}, fmt.Errorf("read weather: %w", err)
	}
	rawCountries, err := ReadCountries(paths.CountryCSV)
	if err != nil {
		return Result{}, fmt.Errorf("read countries: %w", err)
	}

	yearly := AggregateWeather(days)
	enriched := Merge(AssignYears(wines, NewRand(seed)), yearly)
	countries := CleanCountries(rawCountries)

	res := Result{Wines: len(enriched), Countries: len(countries)}
	for _, w := range enriched {
		if !w.Temperature.Valid || !w.Rain.Valid {
			res.WinesNoWeather++
		}
	}
	log.Printf("process: %d wines (%d without weather), %d weather years, %d countries",
		res.Wines, res.WinesNoWeather, len(yearly), res.Countries)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := loader.ReplaceWines(ctx, enriched); err != nil {
		return Result{}, fmt.Errorf("load wines: %w", err)
	}
	if err := loader.ReplaceCountries(ctx, countries); err != nil {
		return res, fmt.Errorf("load countries: %w", err)
	}
	return res, nil
}

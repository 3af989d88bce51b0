package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lox/elyos/internal/config"
)

// WeatherFetcher downloads daily history from the Open-Meteo archive API.
type WeatherFetcher struct {
	httpSource
	src config.WeatherSource
}

func NewWeatherFetcher(client *http.Client, src config.WeatherSource) *WeatherFetcher {
	return &WeatherFetcher{httpSource: newHTTPSource(client), src: src}
}

func (f *WeatherFetcher) Name() string { return "weather" }

// URL is the archive query for the configured location and period.
func (f *WeatherFetcher) URL() string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(f.src.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(f.src.Longitude, 'f', -1, 64))
	values.Set("start_date", f.src.StartDate)
	values.Set("end_date", f.src.EndDate)
	values.Set("daily", f.src.Daily)
	return f.src.URL + "?" + values.Encode()
}

type archiveResponse struct {
	Daily struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m_mean"`
		Rain        []*float64 `json:"rain_sum"`
	} `json:"daily"`
}

func (f *WeatherFetcher) Fetch(ctx context.Context, dest string) error {
	body, err := f.get(ctx, f.Name(), f.URL())
	if err != nil {
		return err
	}

	var data archiveResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("%w: unmarshal weather: %w", ErrFetch, err)
	}
	d := data.Daily
	if len(d.Time) == 0 {
		return fmt.Errorf("%w: no daily weather returned", ErrFetch)
	}
	if len(d.Temperature) != len(d.Time) || len(d.Rain) != len(d.Time) {
		return fmt.Errorf("%w: daily arrays differ in length: time=%d temperature=%d rain=%d",
			ErrFetch, len(d.Time), len(d.Temperature), len(d.Rain))
	}

	return writeFileAtomic(dest, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"time", "temperature_2m_mean", "rain_sum"}); err != nil {
			return err
		}
		for i, day := range d.Time {
			if err := cw.Write([]string{day, formatNullable(d.Temperature[i]), formatNullable(d.Rain[i])}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

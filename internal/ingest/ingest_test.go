package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/elyos/internal/config"
)

func noWait(h *httpSource) {
	h.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
}

const archiveJSON = `{
  "latitude": 44.8,
  "longitude": -0.5,
  "daily": {
    "time": ["2010-01-01", "2010-01-02", "2010-01-03"],
    "temperature_2m_mean": [4.5, null, 6.25],
    "rain_sum": [0.0, 3.2, null]
  }
}`

func TestWeatherFetcher_URL(t *testing.T) {
	f := NewWeatherFetcher(http.DefaultClient, config.DefaultSources().Weather)
	u := f.URL()
	assert.True(t, strings.HasPrefix(u, "https://archive-api.open-meteo.com/v1/archive?"))
	assert.Contains(t, u, "latitude=44.8")
	assert.Contains(t, u, "longitude=-0.5")
	assert.Contains(t, u, "start_date=2010-01-01")
	assert.Contains(t, u, "end_date=2020-12-31")
	assert.Contains(t, u, "daily=temperature_2m_mean%2Crain_sum")
}

func TestWeatherFetcher_WritesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2010-01-01", r.URL.Query().Get("start_date"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(archiveJSON))
	}))
	defer srv.Close()

	src := config.DefaultSources().Weather
	src.URL = srv.URL
	f := NewWeatherFetcher(srv.Client(), src)

	dest := filepath.Join(t.TempDir(), "raw", "meteo.csv")
	require.NoError(t, f.Fetch(context.Background(), dest))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	want := "time,temperature_2m_mean,rain_sum\n" +
		"2010-01-01,4.5,0\n" +
		"2010-01-02,,3.2\n" +
		"2010-01-03,6.25,\n"
	assert.Equal(t, want, string(b))
}

func TestWeatherFetcher_MismatchedArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{"time":["2010-01-01","2010-01-02"],"temperature_2m_mean":[1],"rain_sum":[1,2]}}`))
	}))
	defer srv.Close()

	src := config.DefaultSources().Weather
	src.URL = srv.URL
	f := NewWeatherFetcher(srv.Client(), src)

	dest := filepath.Join(t.TempDir(), "meteo.csv")
	err := f.Fetch(context.Background(), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.NoFileExists(t, dest)
}

func TestHTTPSource_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("fixed acidity;quality\n7.4;5\n"))
	}))
	defer srv.Close()

	f := NewWineFetcher(srv.Client(), srv.URL+"/winequality-red.csv")
	noWait(&f.httpSource)

	dest := filepath.Join(t.TempDir(), "wine.csv")
	require.NoError(t, f.Fetch(context.Background(), dest))
	assert.Equal(t, int32(3), calls.Load())

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "fixed acidity;quality\n7.4;5\n", string(b))
}

func TestHTTPSource_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewWineFetcher(srv.Client(), srv.URL)
	noWait(&f.httpSource)

	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "wine.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewWineFetcher(srv.Client(), srv.URL)
	noWait(&f.httpSource)

	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "wine.csv"))
	require.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, int32(4), calls.Load())
}

func TestWineFetcher_UnsupportedScheme(t *testing.T) {
	f := NewWineFetcher(http.DefaultClient, "file:///etc/passwd")
	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "wine.csv"))
	require.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestWineFetcher_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "wine.csv")
	err := NewWineFetcher(srv.Client(), srv.URL).Fetch(context.Background(), dest)
	require.ErrorIs(t, err, ErrFetch)
	assert.NoFileExists(t, dest)
}

const countriesHTML = `<html><body>
<table class="wikitable">
  <tr><th>Country</th><th>Production</th><th>Year</th></tr>
  <tr><td><a href="/wiki/Italy">Italy</a><sup class="reference">[1]</sup></td><td>5,088,500</td><td>2019</td></tr>
  <tr><td> France </td><td>4,2 00,000[a]</td></tr>
  <tr><td>only one cell</td></tr>
</table>
<table class="infobox"><tr><td>ignored</td><td>table</td></tr></table>
<table class="wikitable sortable">
  <tr><td>Spain</td><td>n/a</td></tr>
</table>
</body></html>`

func TestParseCountryTables(t *testing.T) {
	rows, err := ParseCountryTables(strings.NewReader(countriesHTML))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Table_1", rows[0].Category)
	assert.Equal(t, "Italy", rows[0].Raw1)
	assert.Equal(t, "5,088,500", rows[0].Raw2)
	assert.Equal(t, "2019", rows[0].Raw3)

	assert.Equal(t, "France", rows[1].Raw1)
	assert.Equal(t, "4,2 00,000", rows[1].Raw2)
	assert.Empty(t, rows[1].Raw3)

	assert.Equal(t, "Table_2", rows[2].Category)
	assert.Equal(t, "Spain", rows[2].Raw1)
}

func TestCountryFetcher_WritesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(countriesHTML))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "countries.csv")
	require.NoError(t, NewCountryFetcher(srv.Client(), srv.URL).Fetch(context.Background(), dest))

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Category_Index,Raw_Data_1,Raw_Data_2,Raw_Data_3", lines[0])
	assert.Equal(t, `Table_1,Italy,"5,088,500",2019`, lines[1])
}

func TestCountryFetcher_NoTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>nothing</p></body></html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "countries.csv")
	err := NewCountryFetcher(srv.Client(), srv.URL).Fetch(context.Background(), dest)
	require.ErrorIs(t, err, ErrFetch)
	assert.NoFileExists(t, dest)
}

type stubFetcher struct {
	name  string
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(ctx context.Context, dest string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dest, []byte(s.name), 0o644)
}

func TestFetchAll_ContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	a := &stubFetcher{name: "a"}
	b := &stubFetcher{name: "b", err: boom}
	c := &stubFetcher{name: "c"}

	err := FetchAll(context.Background(), []Job{
		{Fetcher: a, Dest: filepath.Join(dir, "a")},
		{Fetcher: b, Dest: filepath.Join(dir, "b")},
		{Fetcher: c, Dest: filepath.Join(dir, "c")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, c.calls)
	assert.FileExists(t, filepath.Join(dir, "c"))
}

func TestWeatherFetcher_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	src := config.DefaultSources().Weather
	src.StartDate, src.EndDate = "2019-01-01", "2019-01-31"
	f := NewWeatherFetcher(http.DefaultClient, src)

	dest := filepath.Join(t.TempDir(), "meteo.csv")
	require.NoError(t, f.Fetch(context.Background(), dest))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(b)), "\n"), 32)
}

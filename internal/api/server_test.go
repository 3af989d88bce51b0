package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/elyos/internal/models"
	"github.com/lox/elyos/internal/predict"
)

const validBody = `{
  "fixed_acidity": 7.4, "volatile_acidity": 0.7, "citric_acid": 0, "residual_sugar": 1.9,
  "chlorides": 0.076, "free_sulfur_dioxide": 11, "total_sulfur_dioxide": 34, "density": 0.9978,
  "pH": 3.51, "sulphates": 0.56, "alcohol": 9.4, "temperature": 15.0, "rain": 0.0
}`

type stubModel struct {
	value float64
	err   error
}

func (m stubModel) Name() string { return "stub" }

func (m stubModel) Predict(x []float64) (float64, error) { return m.value, m.err }

type fakeStore struct {
	countries []models.CountryReference
	runs      []models.PipelineRun
	bench     map[string][]models.Benchmark
	err       error
}

func (f *fakeStore) Countries(ctx context.Context, byVolume bool) ([]models.CountryReference, error) {
	return f.countries, f.err
}

func (f *fakeStore) RecentRuns(ctx context.Context, stage string, limit int) ([]models.PipelineRun, error) {
	var out []models.PipelineRun
	for _, r := range f.runs {
		if stage == "" || r.Stage == stage {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, f.err
}

func (f *fakeStore) Benchmarks(ctx context.Context, runID string) ([]models.Benchmark, error) {
	return f.bench[runID], f.err
}

func newTestServer(t *testing.T, m *stubModel, store Store) *httptest.Server {
	t.Helper()
	svc := predict.NewService()
	if m != nil {
		svc.SetModel(*m)
	}
	srv := httptest.NewServer(NewServer(svc, store, "0").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postPredict(t *testing.T, srv *httptest.Server, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestPredict_OK(t *testing.T) {
	srv := newTestServer(t, &stubModel{value: 5.6}, nil)

	status, out := postPredict(t, srv, validBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5.6, out["predicted_quality"])
}

func TestPredict_Rejected(t *testing.T) {
	srv := newTestServer(t, &stubModel{value: 5.6}, nil)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"alcohol above limit", strings.Replace(validBody, `"alcohol": 9.4`, `"alcohol": 150`, 1), "alcohol must be at most 20"},
		{"missing field", strings.Replace(validBody, `"rain": 0.0`, `"rain": null`, 1), "rain is required"},
		{"malformed json", `{"alcohol": `, "malformed JSON body"},
		{"wrong type", strings.Replace(validBody, `"pH": 3.51`, `"pH": "acidic"`, 1), "malformed JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postPredict(t, srv, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Contains(t, out["detail"], tt.detail)
		})
	}
}

func TestPredict_NoModel(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	for _, body := range []string{validBody, `{"alcohol": 150}`, `not json`} {
		status, out := postPredict(t, srv, body)
		assert.Equal(t, http.StatusServiceUnavailable, status, "body %q", body)
		assert.Equal(t, "model not loaded", out["detail"])
	}
}

func TestPredict_InferenceFailure(t *testing.T) {
	srv := newTestServer(t, &stubModel{err: errors.New("matrix exploded")}, nil)

	status, out := postPredict(t, srv, validBody)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "prediction failed", out["detail"])
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubModel{value: 5}, nil)

	resp, err := http.Get(srv.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		runs: []models.PipelineRun{
			{ID: "r3", Stage: "train", StartedAt: started, Success: false},
			{ID: "r2", Stage: "train", StartedAt: started.Add(-time.Hour), Success: true},
		},
		bench: map[string][]models.Benchmark{
			"r2": {
				{RunID: "r2", Model: "linear_regression", MSE: 0.42, R2: 0.35},
				{RunID: "r2", Model: "random_forest", MSE: 0.31, R2: 0.52, Selected: true},
			},
		},
	}

	t.Run("loaded", func(t *testing.T) {
		srv := newTestServer(t, &stubModel{value: 5}, store)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var h HealthStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.Equal(t, "ok", h.Status)
		assert.True(t, h.ModelLoaded)
		assert.Equal(t, "stub", h.Model)
		require.NotNil(t, h.LastRun)
		assert.Equal(t, "train", h.LastRun.Stage)
		assert.True(t, h.LastRun.StartedAt.Equal(started))
		assert.False(t, h.LastRun.Success)

		require.Len(t, h.Benchmarks, 2, "benchmarks come from the last successful train run")
		assert.Equal(t, "random_forest", h.Benchmarks[1].Model)
		assert.True(t, h.Benchmarks[1].Selected)
		assert.Equal(t, 0.35, h.Benchmarks[0].R2)
	})

	t.Run("unloaded", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var h HealthStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.False(t, h.ModelLoaded)
		assert.Nil(t, h.LastRun)
	})
}

func TestIndex(t *testing.T) {
	store := &fakeStore{countries: []models.CountryReference{
		{ID: 1, Name: "Italy", Volume: 5088500},
		{ID: 2, Name: "France", Volume: 4200000},
	}}
	srv := newTestServer(t, &stubModel{value: 5}, store)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var b strings.Builder
	_, err = b.ReadFrom(resp.Body)
	require.NoError(t, err)
	page := b.String()
	assert.Contains(t, page, "Élyos")
	assert.Contains(t, page, "stub")
	assert.Contains(t, page, "5,088,500")
	assert.Contains(t, page, "/static/style.css")
}

func TestIndex_NoModelNoStore(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatic(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	for _, name := range []string{"style.css", "app.js"} {
		resp, err := http.Get(srv.URL + "/static/" + name)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, name)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, &stubModel{value: 5}, nil)
	postPredict(t, srv, validBody)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var b strings.Builder
	_, err = b.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, b.String(), "elyos_predictions_total")
}

func TestCountries(t *testing.T) {
	t.Run("from store", func(t *testing.T) {
		store := &fakeStore{countries: []models.CountryReference{{ID: 1, Name: "Italy", Volume: 5088500}}}
		srv := newTestServer(t, nil, store)

		resp, err := http.Get(srv.URL + "/countries")
		require.NoError(t, err)
		defer resp.Body.Close()

		var got []models.CountryReference
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, store.countries, got)
	})

	t.Run("table missing", func(t *testing.T) {
		srv := newTestServer(t, nil, &fakeStore{err: errors.New("no such table")})

		resp, err := http.Get(srv.URL + "/countries")
		require.NoError(t, err)
		defer resp.Body.Close()

		var b strings.Builder
		_, err = b.ReadFrom(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "[]\n", b.String())
	})
}

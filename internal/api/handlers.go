package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lox/elyos/internal/models"
	"github.com/lox/elyos/internal/predict"
)

const maxPredictBody = 64 << 10

type predictResponse struct {
	PredictedQuality float64 `json:"predicted_quality"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.predictor.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "model not loaded"})
		return
	}

	var f predict.Features
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&f); err != nil {
		log.Printf("api: predict rejected: malformed body: %v", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "malformed JSON body: " + err.Error()})
		return
	}

	quality, err := s.predictor.Predict(r.Context(), f)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, predictResponse{PredictedQuality: quality})
	case errors.Is(err, predict.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "model not loaded"})
	case errors.Is(err, predict.ErrInvalidInput):
		log.Printf("api: predict rejected: %v", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
	default:
		log.Printf("api: predict failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "prediction failed"})
	}
}

type HealthStatus struct {
	Status      string     `json:"status"`
	ModelLoaded bool       `json:"model_loaded"`
	Model       string     `json:"model,omitempty"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
	LastRun     *RunStatus `json:"last_run,omitempty"`
	// Benchmarks are the candidates scored by the latest successful training run.
	Benchmarks []BenchmarkStatus `json:"benchmarks,omitempty"`
}

type BenchmarkStatus struct {
	Model    string  `json:"model"`
	MSE      float64 `json:"mse"`
	R2       float64 `json:"r2"`
	Selected bool    `json:"selected"`
}

type RunStatus struct {
	Stage     string    `json:"stage"`
	StartedAt time.Time `json:"started_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}
	if info, ok := s.predictor.Info(); ok {
		health.ModelLoaded = true
		health.Model = info.Name
		health.LoadedAt = &info.LoadedAt
	}

	if s.store != nil {
		runs, err := s.store.RecentRuns(r.Context(), "", 1)
		if err != nil {
			log.Printf("api: recent runs: %v", err)
		} else if len(runs) > 0 {
			health.LastRun = &RunStatus{
				Stage:     runs[0].Stage,
				StartedAt: runs[0].StartedAt,
				Success:   runs[0].Success,
				Error:     runs[0].ErrorMessage.String,
			}
		}
		health.Benchmarks = s.benchmarks(r)
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) benchmarks(r *http.Request) []BenchmarkStatus {
	runs, err := s.store.RecentRuns(r.Context(), "train", 20)
	if err != nil {
		log.Printf("api: recent train runs: %v", err)
		return nil
	}
	for _, run := range runs {
		if !run.Success {
			continue
		}
		bench, err := s.store.Benchmarks(r.Context(), run.ID)
		if err != nil {
			log.Printf("api: benchmarks for run %s: %v", run.ID, err)
			return nil
		}
		out := make([]BenchmarkStatus, 0, len(bench))
		for _, b := range bench {
			out = append(out, BenchmarkStatus{Model: b.Model, MSE: b.MSE, R2: b.R2, Selected: b.Selected})
		}
		return out
	}
	return nil
}

func (s *Server) countries(r *http.Request) []models.CountryReference {
	if s.store == nil {
		return nil
	}
	countries, err := s.store.Countries(r.Context(), true)
	if err != nil {
		// The table only exists after the first process run.
		log.Printf("api: countries: %v", err)
		return nil
	}
	return countries
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries := s.countries(r)
	if countries == nil {
		countries = []models.CountryReference{}
	}
	writeJSON(w, http.StatusOK, countries)
}

type indexData struct {
	ModelLoaded  bool
	ModelName    string
	TopProducers []models.CountryReference
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{}
	if info, ok := s.predictor.Info(); ok {
		data.ModelLoaded = true
		data.ModelName = info.Name
	}
	top := s.countries(r)
	if len(top) > 10 {
		top = top[:10]
	}
	data.TopProducers = top

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

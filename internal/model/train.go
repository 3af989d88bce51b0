package model

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/lox/elyos/internal/metrics"
	"github.com/lox/elyos/internal/models"
)

var ErrNotEnoughData = errors.New("not enough complete rows to train")

// Trainer fits both candidates on a seeded split and keeps the better one.
type Trainer struct {
	TestFraction float64
	Seed         uint64
	Forest       ForestConfig
}

func NewTrainer() Trainer {
	return Trainer{TestFraction: 0.2, Seed: 42, Forest: DefaultForestConfig()}
}

// Candidate is the held-out score of one fitted model.
type Candidate struct {
	Model    Regressor
	MSE      float64
	R2       float64
	Selected bool
}

type Result struct {
	Best       Regressor
	Candidates []Candidate
	TrainRows  int
	TestRows   int
	Dropped    int
}

// Benchmarks converts the candidates to audit records for runID.
func (r *Result) Benchmarks(runID string) []models.Benchmark {
	out := make([]models.Benchmark, len(r.Candidates))
	for i, c := range r.Candidates {
		out[i] = models.Benchmark{RunID: runID, Model: c.Model.Name(), MSE: c.MSE, R2: c.R2, Selected: c.Selected}
	}
	return out
}

// Train drops rows without weather, splits the rest and fits a linear model
// and a random forest. The forest wins only with a strictly higher R².
func (t Trainer) Train(ctx context.Context, wines []models.EnrichedWine) (*Result, error) {
	var (
		X [][]float64
		y []float64
	)
	for _, w := range wines {
		f, ok := w.Features()
		if !ok {
			continue
		}
		X = append(X, f)
		y = append(y, float64(w.Quality))
	}
	res := &Result{Dropped: len(wines) - len(X)}
	if res.Dropped > 0 {
		log.Printf("train: dropped %d rows with null features", res.Dropped)
	}

	trainIdx, testIdx, err := Split(len(X), t.TestFraction, t.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotEnoughData, err)
	}
	Xtr, ytr := pick(X, y, trainIdx)
	Xte, yte := pick(X, y, testIdx)
	res.TrainRows, res.TestRows = len(trainIdx), len(testIdx)

	var (
		linear *LinearRegression
		forest *RandomForest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		linear, err = FitLinear(Xtr, ytr)
		return err
	})
	g.Go(func() error {
		var err error
		forest, err = FitForest(gctx, Xtr, ytr, t.Forest)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range []Regressor{linear, forest} {
		mse, r2, err := Evaluate(r, Xte, yte)
		if err != nil {
			return nil, err
		}
		log.Printf("train: %s mse=%.4f r2=%.4f", r.Name(), mse, r2)
		metrics.ModelR2.WithLabelValues(r.Name()).Set(r2)
		res.Candidates = append(res.Candidates, Candidate{Model: r, MSE: mse, R2: r2})
	}

	best := 0
	if res.Candidates[1].R2 > res.Candidates[0].R2 {
		best = 1
	}
	res.Candidates[best].Selected = true
	res.Best = res.Candidates[best].Model
	log.Printf("train: selected %s", res.Best.Name())
	return res, nil
}

func pick(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	px := make([][]float64, len(idx))
	py := make([]float64, len(idx))
	for i, j := range idx {
		px[i], py[i] = X[j], y[j]
	}
	return px, py
}

package predict

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/elyos/internal/model"
)

func ptr(v float64) *float64 { return &v }

func validFeatures() Features {
	return Features{
		FixedAcidity:       ptr(7.4),
		VolatileAcidity:    ptr(0.7),
		CitricAcid:         ptr(0),
		ResidualSugar:      ptr(1.9),
		Chlorides:          ptr(0.076),
		FreeSulfurDioxide:  ptr(11),
		TotalSulfurDioxide: ptr(34),
		Density:            ptr(0.9978),
		PH:                 ptr(3.51),
		Sulphates:          ptr(0.56),
		Alcohol:            ptr(9.4),
		Temperature:        ptr(15.0),
		Rain:               ptr(0.0),
	}
}

type stubModel struct {
	value float64
	err   error
	panic bool
	got   []float64
	mu    sync.Mutex
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Predict(x []float64) (float64, error) {
	m.mu.Lock()
	m.got = x
	m.mu.Unlock()
	if m.panic {
		panic("index out of range")
	}
	return m.value, m.err
}

func TestFeatures_Vector(t *testing.T) {
	v := validFeatures().Vector()
	require.Len(t, v, model.NumFeatures)
	assert.Equal(t, []float64{7.4, 0.7, 0, 1.9, 0.076, 11, 34, 0.9978, 3.51, 0.56, 9.4, 15.0, 0.0}, v)
}

func TestPredict_Unloaded(t *testing.T) {
	s := NewService()
	assert.False(t, s.Ready())

	_, err := s.Predict(context.Background(), validFeatures())
	assert.ErrorIs(t, err, ErrNotReady)

	// Invalid input is still unavailable, not a client error.
	_, err = s.Predict(context.Background(), Features{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestPredict_OK(t *testing.T) {
	s := NewService()
	m := &stubModel{value: 5.6}
	s.SetModel(m)

	got, err := s.Predict(context.Background(), validFeatures())
	require.NoError(t, err)
	assert.Equal(t, 5.6, got)
	assert.Equal(t, validFeatures().Vector(), m.got)

	info, ok := s.Info()
	require.True(t, ok)
	assert.Equal(t, "stub", info.Name)
}

func TestPredict_Validation(t *testing.T) {
	s := NewService()
	m := &stubModel{value: 5}
	s.SetModel(m)

	tooStrong := validFeatures()
	tooStrong.Alcohol = ptr(20.5)
	_, err := s.Predict(context.Background(), tooStrong)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "alcohol must be at most 20")

	atLimit := validFeatures()
	atLimit.Alcohol = ptr(20)
	_, err = s.Predict(context.Background(), atLimit)
	assert.NoError(t, err)

	missing := validFeatures()
	missing.Rain = nil
	missing.PH = nil
	m.got = nil
	_, err = s.Predict(context.Background(), missing)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "rain is required")
	assert.Contains(t, err.Error(), "pH is required")
	assert.Nil(t, m.got, "model must not see invalid input")
}

func TestPredict_InferenceFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *stubModel
	}{
		{"error", &stubModel{err: errors.New("shape mismatch")}},
		{"panic", &stubModel{panic: true}},
		{"nan", &stubModel{value: math.NaN()}},
		{"inf", &stubModel{value: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService()
			s.SetModel(tt.model)

			_, err := s.Predict(context.Background(), validFeatures())
			assert.ErrorIs(t, err, ErrInference)
			assert.True(t, s.Ready(), "service stays ready after inference failure")
		})
	}
}

func TestPredict_ClipsToTrainingRange(t *testing.T) {
	s := NewService()
	reg := &model.LinearRegression{Coef: make([]float64, model.NumFeatures), Min: 3, Max: 8}
	reg.Coef[10] = 1 // quality follows alcohol

	reg.Intercept = 100
	s.SetModel(reg)
	got, err := s.Predict(context.Background(), validFeatures())
	require.NoError(t, err)
	assert.Equal(t, 8.0, got)

	reg.Intercept = -100
	got, err = s.Predict(context.Background(), validFeatures())
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	reg.Intercept = -4
	got, err = s.Predict(context.Background(), validFeatures())
	require.NoError(t, err)
	assert.InDelta(t, 5.4, got, 1e-9)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewService()

	require.NoError(t, s.Load(filepath.Join(dir, "absent.gob.gz")))
	assert.False(t, s.Ready())

	X := [][]float64{make([]float64, model.NumFeatures), make([]float64, model.NumFeatures), make([]float64, model.NumFeatures)}
	for i := range X {
		X[i][10] = float64(9 + i)
		X[i][0] = float64(i * i)
	}
	reg, err := model.FitLinear(X, []float64{5, 6, 7})
	require.NoError(t, err)
	path := filepath.Join(dir, "best_model.gob.gz")
	require.NoError(t, model.Save(path, reg))

	require.NoError(t, s.Load(path))
	require.True(t, s.Ready())
	info, _ := s.Info()
	assert.Equal(t, path, info.Path)

	got, err := s.Predict(context.Background(), validFeatures())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, 5.0)
	assert.LessOrEqual(t, got, 7.0)
}

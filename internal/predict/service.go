package predict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/elyos/internal/metrics"
	"github.com/lox/elyos/internal/model"
)

var (
	ErrNotReady     = errors.New("model not loaded")
	ErrInvalidInput = errors.New("invalid input")
	ErrInference    = errors.New("inference failed")
)

type loaded struct {
	reg      model.Regressor
	path     string
	loadedAt time.Time
}

// Service holds the serving model. It starts unloaded and becomes ready once
// a model is loaded; requests never change its state.
type Service struct {
	validate *validator.Validate
	current  atomic.Pointer[loaded]
}

func NewService() *Service {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return &Service{validate: v}
}

// Load reads the model at path. A missing file leaves the service unloaded
// and is not an error; an unreadable model is.
func (s *Service) Load(path string) error {
	reg, err := model.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("predict: no model at %s, predictions unavailable until one is trained", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load model %s: %w", path, err)
	}
	s.current.Store(&loaded{reg: reg, path: path, loadedAt: time.Now()})
	log.Printf("predict: loaded %s from %s", reg.Name(), path)
	return nil
}

// SetModel makes reg the serving model.
func (s *Service) SetModel(reg model.Regressor) {
	s.current.Store(&loaded{reg: reg, loadedAt: time.Now()})
}

func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

// ModelInfo describes the serving model.
type ModelInfo struct {
	Name     string
	Path     string
	LoadedAt time.Time
}

// Info returns the serving model, or false when unloaded.
func (s *Service) Info() (ModelInfo, bool) {
	l := s.current.Load()
	if l == nil {
		return ModelInfo{}, false
	}
	return ModelInfo{Name: l.reg.Name(), Path: l.path, LoadedAt: l.loadedAt}, true
}

// Predict scores one wine. The unloaded check comes first so an unloaded
// service answers every request with ErrNotReady.
func (s *Service) Predict(ctx context.Context, f Features) (float64, error) {
	l := s.current.Load()
	if l == nil {
		metrics.PredictionsTotal.WithLabelValues("not_ready").Inc()
		return 0, ErrNotReady
	}

	if err := s.validate.StructCtx(ctx, f); err != nil {
		metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	start := time.Now()
	v, err := infer(l.reg, f.Vector())
	metrics.PredictionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}
	metrics.PredictionsTotal.WithLabelValues("ok").Inc()
	return v, nil
}

func infer(reg model.Regressor, x []float64) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", reg.Name(), r)
		}
	}()
	v, err = reg.Predict(x)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s returned %v", reg.Name(), v)
	}
	if b, ok := reg.(model.Bounded); ok {
		lo, hi := b.TargetRange()
		v = min(max(v, lo), hi)
	}
	return v, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// NumFeatures is the width of every feature vector: 11 chemistry values
// followed by yearly mean temperature and total rain.
const NumFeatures = 13

var ErrFeatureCount = errors.New("wrong number of features")

// Regressor maps one feature vector to a predicted quality score.
type Regressor interface {
	Name() string
	Predict(x []float64) (float64, error)
}

// Bounded is implemented by models that record the target range they were
// trained on. Serving clips their output to it.
type Bounded interface {
	TargetRange() (lo, hi float64)
}

func init() {
	gob.Register(&LinearRegression{})
	gob.Register(&RandomForest{})
}

func checkWidth(x []float64, want int) error {
	if len(x) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), want)
	}
	return nil
}

// Save writes r to path as a gzip-compressed gob stream. The file is replaced
// atomically so readers never see a partial model.
func Save(path string, r Regressor) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp model: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	if err := gob.NewEncoder(gz).Encode(&r); err != nil {
		tmp.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	return nil
}

// Load reads a model written by Save. A missing file is reported with an
// error matching os.ErrNotExist.
func Load(path string) (Regressor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	var r Regressor
	if err := gob.NewDecoder(gz).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if r == nil {
		return nil, errors.New("decode model: empty model")
	}
	return r, nil
}

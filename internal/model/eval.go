package model

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// MSE is the mean squared error of pred against truth.
func MSE(truth, pred []float64) float64 {
	sum := 0.0
	for i := range truth {
		d := truth[i] - pred[i]
		sum += d * d
	}
	return sum / float64(len(truth))
}

// R2 is the coefficient of determination. A constant truth scores 1 when
// predicted exactly and 0 otherwise.
func R2(truth, pred []float64) float64 {
	mean := 0.0
	for _, v := range truth {
		mean += v
	}
	mean /= float64(len(truth))

	var ssRes, ssTot float64
	for i, v := range truth {
		ssRes += (v - pred[i]) * (v - pred[i])
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// Split shuffles 0..n-1 with a seeded source and holds out ceil(testFrac*n)
// indices for testing.
func Split(n int, testFrac float64, seed uint64) (train, test []int, err error) {
	if testFrac <= 0 || testFrac >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v out of (0, 1)", testFrac)
	}
	nTest := int(math.Ceil(testFrac * float64(n)))
	if n < 2 || nTest >= n {
		return nil, nil, fmt.Errorf("%d rows cannot be split %v/%v", n, 1-testFrac, testFrac)
	}
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// Evaluate scores r on the given rows.
func Evaluate(r Regressor, X [][]float64, y []float64) (mse, r2 float64, err error) {
	pred := make([]float64, len(X))
	for i, x := range X {
		if pred[i], err = r.Predict(x); err != nil {
			return 0, 0, fmt.Errorf("%s predict row %d: %w", r.Name(), i, err)
		}
	}
	return MSE(y, pred), R2(y, pred), nil
}

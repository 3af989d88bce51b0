package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is an ordinary least squares model with intercept.
// Min and Max are the target range seen during training.
type LinearRegression struct {
	Intercept float64
	Coef      []float64
	Min, Max  float64
}

func (m *LinearRegression) Name() string { return "linear_regression" }

// ridgeLambda regularises the normal equations when the design matrix is
// rank deficient.
const ridgeLambda = 1e-8

// FitLinear solves the least squares problem through QR. If the design is
// singular it falls back to ridge-regularised normal equations.
func FitLinear(X [][]float64, y []float64) (*LinearRegression, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("fit linear: %d rows, %d targets", n, len(y))
	}
	p := len(X[0])

	design := mat.NewDense(n, p+1, nil)
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("fit linear: row %d: %w", i, ErrFeatureCount)
		}
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}
	target := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	err := beta.SolveVec(design, target)
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("fit linear: %w", err)
		}
		if err := solveRidge(&beta, design, target); err != nil {
			return nil, fmt.Errorf("fit linear: %w", err)
		}
	}

	m := &LinearRegression{
		Intercept: beta.AtVec(0),
		Coef:      make([]float64, p),
		Min:       y[0],
		Max:       y[0],
	}
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j + 1)
	}
	for _, v := range y {
		m.Min = min(m.Min, v)
		m.Max = max(m.Max, v)
	}
	return m, nil
}

// solveRidge solves (XᵀX + λI)β = Xᵀy with a Cholesky factorisation.
// The intercept column is not penalised.
func solveRidge(dst *mat.VecDense, design *mat.Dense, target *mat.VecDense) error {
	_, cols := design.Dims()
	gram := mat.NewSymDense(cols, nil)
	gram.SymOuterK(1, design.T())

	scale := 0.0
	for i := 0; i < cols; i++ {
		scale += gram.At(i, i)
	}
	lambda := ridgeLambda * max(scale/float64(cols), 1)
	for i := 1; i < cols; i++ {
		gram.SetSym(i, i, gram.At(i, i)+lambda)
	}

	var rhs mat.VecDense
	rhs.MulVec(design.T(), target)

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return errors.New("normal equations are not positive definite")
	}
	return chol.SolveVecTo(dst, &rhs)
}

func (m *LinearRegression) Predict(x []float64) (float64, error) {
	if err := checkWidth(x, len(m.Coef)); err != nil {
		return 0, err
	}
	v := m.Intercept
	for j, c := range m.Coef {
		v += c * x[j]
	}
	return v, nil
}

func (m *LinearRegression) TargetRange() (lo, hi float64) {
	return m.Min, m.Max
}

// Package rand draws random pose samples used for particle generation.
package rand

import (
	"fmt"
	"math"
	rnd "math/rand"

	"gonum.org/v1/gonum/mat"
)

// WithCovN draws n random samples from a zero-mean Normal (aka Gaussian)
// distribution with covariance cov, using src as the randomness source.
// A nil src falls back to the shared source. It returns a matrix which
// contains the generated samples in its columns.
// It fails with error if n is not positive or if SVD factorization of cov fails.
func WithCovN(cov mat.Symmetric, n int, src *rnd.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid number of samples requested: %d", n)
	}

	norm := rnd.NormFloat64
	if src != nil {
		norm = src.NormFloat64
	}

	// Use SVD instead of Cholesky as Cholesky can be numerically unstable
	// if cov is (almost) singular
	var svd mat.SVD
	ok := svd.Factorize(cov, mat.SVDFull)
	if !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	u := new(mat.Dense)
	svd.UTo(u)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)
	u.Mul(u, diag)

	rows, _ := cov.Dims()
	data := make([]float64, rows*n)
	for i := range data {
		data[i] = norm()
	}
	samples := mat.NewDense(rows, n, data)
	samples.Mul(u, samples)

	return samples, nil
}

// MeanWithCovN draws n samples from a Normal distribution with the given
// mean and covariance: each column of the returned matrix is one sample.
func MeanWithCovN(mean mat.Vector, cov mat.Symmetric, n int, src *rnd.Rand) (*mat.Dense, error) {
	samples, err := WithCovN(cov, n, src)
	if err != nil {
		return nil, err
	}

	rows, cols := samples.Dims()
	if rows != mean.Len() {
		return nil, fmt.Errorf("mean dimension mismatch: %d vs %d", mean.Len(), rows)
	}

	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			samples.Set(r, c, samples.At(r, c)+mean.AtVec(r))
		}
	}

	return samples, nil
}

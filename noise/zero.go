package noise

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Zero is the absence of noise. It satisfies Noise so a scenario can switch
// between noisy and deterministic sensor streams without branching.
type Zero struct {
	size int
}

// NewZero creates zero noise of the given dimension.
// It returns error if size is negative.
func NewZero(size int) (*Zero, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", size)
	}

	return &Zero{size: size}, nil
}

// Sample returns the zero vector.
func (z *Zero) Sample() mat.Vector {
	return mat.NewVecDense(z.size, nil)
}

// Cov returns the zero covariance matrix.
func (z *Zero) Cov() mat.Symmetric {
	return mat.NewSymDense(z.size, nil)
}

// Mean returns the zero mean.
func (z *Zero) Mean() []float64 {
	return make([]float64, z.size)
}

// String implements the Stringer interface.
func (z *Zero) String() string {
	return fmt.Sprintf("Zero{Dim=%d}", z.size)
}

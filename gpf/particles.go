package gpf

import (
	"fmt"
	rnd "math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/rand"
)

// poseDim is the particle pose dimension: x, y, z, roll, pitch, yaw.
const poseDim = 6

// ParticleSet is a fixed-size cloud of candidate poses drawn from a Gaussian
// prior. A set lives for exactly one scan: it is regenerated from scratch on
// the next scan, never resampled across time.
type ParticleSet struct {
	// x stores particle poses as column vectors
	x *mat.Dense
	// w stores particle weights
	w []float64
}

// NewParticleSet draws n particles independently from the prior belief.
// It returns error for a non-positive particle count or if sampling from the
// prior covariance fails.
func NewParticleSet(n int, prior lidarloc.GaussianBelief, src *rnd.Rand) (*ParticleSet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid particle count: %d", n)
	}

	x, err := rand.MeanWithCovN(prior.Mean, prior.Cov, n, src)
	if err != nil {
		return nil, fmt.Errorf("failed to generate particle set: %v", err)
	}

	return &ParticleSet{
		x: x,
		w: make([]float64, n),
	}, nil
}

// Weight scores every particle against the preprocessed cloud and the
// distance field. Particles are independent, so the set is weighted with a
// parallel map; no ordering is needed within one scan.
func (p *ParticleSet) Weight(c *cloud.Cloud, field lidarloc.DistanceField) {
	n := len(p.w)

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				p.w[i] = particleWeight(p.x.ColView(i), c.Points, field)
			}
		}(lo, hi)
	}
	wg.Wait()
}

// particleWeight is the pure weighting function: it transforms the cloud by
// the candidate pose and accumulates the distance-field likelihood of every
// transformed point. The result is non-negative and unnormalized.
func particleWeight(x mat.Vector, pts []cloud.Point, field lidarloc.DistanceField) float64 {
	r := poseRotation(x)
	t := [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}

	w := 0.0
	for _, p := range pts {
		q := applyPose(r, t, p)
		w += field.Likelihood(q[0], q[1], q[2])
	}

	return w
}

// Posterior returns the weight-normalized sample mean and sample covariance
// of the particle poses. It returns ErrZeroWeights if every particle weight
// collapsed to zero.
func (p *ParticleSet) Posterior() (lidarloc.GaussianBelief, error) {
	sum := floats.Sum(p.w)
	if sum <= 0 {
		return lidarloc.GaussianBelief{}, ErrZeroWeights
	}

	w := make([]float64, len(p.w))
	copy(w, p.w)
	floats.Scale(1/sum, w)

	// weighted mean of the particle poses
	mean := mat.NewVecDense(poseDim, nil)
	for r := 0; r < poseDim; r++ {
		avg := 0.0
		for c := range w {
			avg += w[c] * p.x.At(r, c)
		}
		mean.SetVec(r, avg)
	}

	// weighted second moment around the mean. The weights are already
	// normalized, so no bias-correction denominator applies.
	cov := mat.NewSymDense(poseDim, nil)
	d := make([]float64, poseDim)
	for c, wc := range w {
		if wc == 0 {
			continue
		}
		for r := 0; r < poseDim; r++ {
			d[r] = p.x.At(r, c) - mean.AtVec(r)
		}
		for i := 0; i < poseDim; i++ {
			for j := i; j < poseDim; j++ {
				cov.SetSym(i, j, cov.At(i, j)+wc*d[i]*d[j])
			}
		}
	}

	return lidarloc.GaussianBelief{Mean: mean, Cov: cov}, nil
}

// Particles returns a copy of the particle poses as column vectors.
func (p *ParticleSet) Particles() *mat.Dense {
	x := &mat.Dense{}
	x.CloneFrom(p.x)

	return x
}

// Weights returns a copy of the particle weights.
func (p *ParticleSet) Weights() []float64 {
	w := make([]float64, len(p.w))
	copy(w, p.w)

	return w
}

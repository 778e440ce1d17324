package gpf

import (
	"math"
	rnd "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/distmap"
)

// flatField scores every point the same.
type flatField struct{ v float64 }

func (f flatField) Likelihood(x, y, z float64) float64 { return f.v }

func originPrior(sigmaPos, sigmaRot float64) lidarloc.GaussianBelief {
	cov := mat.NewSymDense(poseDim, nil)
	for i := 0; i < 3; i++ {
		cov.SetSym(i, i, sigmaPos*sigmaPos)
		cov.SetSym(i+3, i+3, sigmaRot*sigmaRot)
	}
	return lidarloc.GaussianBelief{
		Mean: mat.NewVecDense(poseDim, nil),
		Cov:  cov,
	}
}

func TestRegularizeIdempotent(t *testing.T) {
	assert := assert.New(t)

	c := mat.NewSymDense(3, []float64{
		2.0, 0.3, 0.1,
		0.3, 1.5, 0.2,
		0.1, 0.2, 1.0,
	})

	out := Regularize(c)
	assert.True(mat.EqualApprox(c, out, 1e-9))
}

func TestRegularizeRepairsSpectrum(t *testing.T) {
	assert := assert.New(t)

	c := mat.NewSymDense(2, []float64{
		1.0, 0.0,
		0.0, -0.5,
	})

	out := Regularize(c)
	assert.InDelta(1.0, out.At(0, 0), 1e-9)
	assert.InDelta(fallbackVariance, out.At(1, 1), 1e-9)

	// result is positive-definite
	var chol mat.Cholesky
	assert.True(chol.Factorize(out))
}

func TestNewParticleSet(t *testing.T) {
	assert := assert.New(t)

	prior := originPrior(0.1, 0.02)
	src := rnd.New(rnd.NewSource(3))

	p, err := NewParticleSet(0, prior, src)
	assert.Nil(p)
	assert.Error(err)

	p, err = NewParticleSet(200, prior, src)
	assert.NoError(err)

	rows, cols := p.Particles().Dims()
	assert.Equal(poseDim, rows)
	assert.Equal(200, cols)
}

func TestParticleWeightPure(t *testing.T) {
	assert := assert.New(t)

	pts := []cloud.Point{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 0}}
	x := mat.NewVecDense(poseDim, []float64{0, 0, 0, 0, 0, 0})

	w := particleWeight(x, pts, flatField{v: 0.5})
	assert.InDelta(1.0, w, 1e-12)

	// a translated particle sees translated points
	grad := fieldFunc(func(px, py, pz float64) float64 { return px })
	x = mat.NewVecDense(poseDim, []float64{1, 0, 0, 0, 0, 0})
	w = particleWeight(x, pts, grad)
	assert.InDelta(3.0, w, 1e-12)
}

type fieldFunc func(x, y, z float64) float64

func (f fieldFunc) Likelihood(x, y, z float64) float64 { return f(x, y, z) }

func TestWeightMatchesSequential(t *testing.T) {
	assert := assert.New(t)

	prior := originPrior(0.1, 0.02)
	src := rnd.New(rnd.NewSource(5))

	p, err := NewParticleSet(64, prior, src)
	assert.NoError(err)

	c := &cloud.Cloud{Points: []cloud.Point{{X: 1, Y: 1, Z: 0}, {X: -2, Y: 0, Z: 1}}}
	grad := fieldFunc(func(x, y, z float64) float64 { return math.Abs(x) + math.Abs(y) })

	p.Weight(c, grad)

	for i := 0; i < 64; i++ {
		want := particleWeight(p.x.ColView(i), c.Points, grad)
		assert.InDelta(want, p.w[i], 1e-12)
	}
}

func TestPosteriorZeroWeights(t *testing.T) {
	assert := assert.New(t)

	prior := originPrior(0.1, 0.02)
	src := rnd.New(rnd.NewSource(7))

	p, err := NewParticleSet(50, prior, src)
	assert.NoError(err)

	c := &cloud.Cloud{Points: []cloud.Point{{X: 1, Y: 0, Z: 0}}}
	p.Weight(c, flatField{v: 0})

	_, err = p.Posterior()
	assert.ErrorIs(err, ErrZeroWeights)
}

func TestPosteriorUniformWeights(t *testing.T) {
	assert := assert.New(t)

	prior := originPrior(0.2, 0.05)
	src := rnd.New(rnd.NewSource(9))

	p, err := NewParticleSet(20000, prior, src)
	assert.NoError(err)

	c := &cloud.Cloud{Points: []cloud.Point{{X: 1, Y: 0, Z: 0}}}
	p.Weight(c, flatField{v: 0.5})

	post, err := p.Posterior()
	assert.NoError(err)

	// uniform weights reproduce the prior statistics
	for i := 0; i < poseDim; i++ {
		assert.InDelta(0.0, post.Mean.AtVec(i), 0.01)
		assert.InDelta(prior.Cov.At(i, i), post.Cov.At(i, i), 0.01)
	}
}

func TestPosteriorWeightedStatistics(t *testing.T) {
	assert := assert.New(t)

	// two hand-placed particles with known weights: the posterior must be
	// the exact weighted mean and weighted second moment, with no
	// frequency-count denominator sneaking in
	x := mat.NewDense(poseDim, 2, nil)
	x.Set(0, 0, 1.0)
	x.Set(0, 1, 3.0)
	x.Set(3, 0, 0.2)
	x.Set(3, 1, -0.2)

	p := &ParticleSet{x: x, w: []float64{1.0, 3.0}}

	post, err := p.Posterior()
	assert.NoError(err)

	// mean_x = 0.25*1 + 0.75*3 = 2.5
	assert.InDelta(2.5, post.Mean.AtVec(0), 1e-12)
	// mean_roll = 0.25*0.2 + 0.75*(-0.2) = -0.1
	assert.InDelta(-0.1, post.Mean.AtVec(3), 1e-12)

	// var_x = 0.25*1.5^2 + 0.75*0.5^2 = 0.75
	assert.InDelta(0.75, post.Cov.At(0, 0), 1e-12)
	// var_roll = 0.25*0.3^2 + 0.75*0.1^2 = 0.03
	assert.InDelta(0.03, post.Cov.At(3, 3), 1e-12)
	// cov_x,roll = 0.25*(-1.5*0.3) + 0.75*(0.5*-0.1) = -0.15
	assert.InDelta(-0.15, post.Cov.At(0, 3), 1e-12)

	// unobserved dimensions carry no spread
	assert.InDelta(0.0, post.Cov.At(1, 1), 1e-12)
}

func TestRecoverIdentity(t *testing.T) {
	assert := assert.New(t)

	prior := originPrior(0.1, 0.02)

	// posterior with the prior mean and half the prior covariance:
	// the recovered measurement carries the prior mean and C = prior cov
	post := prior.Clone()
	post.Cov.ScaleSym(0.5, post.Cov)

	meas, err := Recover(prior, post)
	assert.NoError(err)

	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, meas.Position[i], 1e-9)
		assert.InDelta(0.0, meas.RPY[i], 1e-9)
	}
	assert.True(mat.EqualApprox(prior.Cov, meas.PoseCov, 1e-9))
}

func TestProcessEmptyCloud(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()
	g := New(flatField{v: 1}, cfg, rnd.New(rnd.NewSource(1)))

	// nothing but self-returns
	c := &cloud.Cloud{Points: []cloud.Point{{X: 0.1, Y: 0, Z: 0}}}
	meas, err := g.Process(c, originPrior(0.1, 0.02))
	assert.Nil(meas)
	assert.ErrorIs(err, ErrEmptyCloud)
}

func TestProcessZeroWeights(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()
	cfg.SetSize = 100
	g := New(flatField{v: 0}, cfg, rnd.New(rnd.NewSource(1)))

	c := &cloud.Cloud{Points: []cloud.Point{{X: 2, Y: 0, Z: 0}}}
	meas, err := g.Process(c, originPrior(0.1, 0.02))
	assert.Nil(meas)
	assert.ErrorIs(err, ErrZeroWeights)
}

// TestProcessMatchingScan reconstructs the designed pipeline end to end: a
// cloud that matches the map exactly at the prior mean dominates the weight
// mass there and the recovered measurement mean lands on the prior mean.
func TestProcessMatchingScan(t *testing.T) {
	assert := assert.New(t)

	src := rnd.New(rnd.NewSource(42))

	// a shell of landmarks between 1.5 and 2.5 units from the origin
	var pts []cloud.Point
	for len(pts) < 60 {
		p := cloud.Point{
			X: src.Float64()*5 - 2.5,
			Y: src.Float64()*5 - 2.5,
			Z: src.Float64()*5 - 2.5,
		}
		d := math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
		if d < 1.5 || d > 2.5 {
			continue
		}
		pts = append(pts, p)
	}

	grid, err := distmap.NewGrid([3]float64{-4, -4, -4}, [3]float64{4, 4, 4}, 0.05)
	assert.NoError(err)
	for _, p := range pts {
		grid.Add(p.X, p.Y, p.Z)
	}
	grid.Smooth(0.1)

	cfg := lidarloc.DefaultConfig()
	cfg.SetSize = 800
	g := New(grid, cfg, src)

	prior := originPrior(0.1, 0.02)

	// the sensor sits exactly at the prior mean, so the scan is the
	// landmarks themselves
	meas, err := g.Process(&cloud.Cloud{Points: pts}, prior)
	assert.NoError(err)
	assert.NotNil(meas)

	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, meas.Position[i], 0.15)
		assert.InDelta(0.0, meas.RPY[i], 0.08)
	}

	// the covariance consumed downstream is positive-definite
	var chol mat.Cholesky
	assert.True(chol.Factorize(meas.PoseCov))
}

func TestWeightMassConcentrates(t *testing.T) {
	assert := assert.New(t)

	src := rnd.New(rnd.NewSource(17))

	grid, err := distmap.NewGrid([3]float64{-4, -4, -4}, [3]float64{4, 4, 4}, 0.05)
	assert.NoError(err)

	var pts []cloud.Point
	for i := 0; i < 40; i++ {
		p := cloud.Point{
			X: 2.0,
			Y: src.Float64()*4 - 2,
			Z: src.Float64()*4 - 2,
		}
		pts = append(pts, p)
		grid.Add(p.X, p.Y, p.Z)
	}
	grid.Smooth(0.1)

	prior := originPrior(0.1, 0.02)
	p, err := NewParticleSet(500, prior, src)
	assert.NoError(err)

	p.Weight(&cloud.Cloud{Points: pts}, grid)

	w := p.Weights()
	sum := floats.Sum(w)
	assert.Greater(sum, 0.0)

	// the best particle sits close to the true pose along the constrained
	// axis
	best := floats.MaxIdx(w)
	assert.InDelta(0.0, p.x.At(0, best), 0.2)
}

// Package gpf implements a Gaussian particle filter used as a single-shot
// scan-matching measurement generator: it samples candidate poses around the
// current belief, scores them against a distance field, and recovers a
// Gaussian pseudo-measurement by information-form subtraction of the prior.
package gpf

import (
	"errors"
	"fmt"
	"math"
	rnd "math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/pose"
)

// fallbackVariance replaces non-positive eigenvalues during covariance
// regularization. A dimension the scan did not constrain ends up with this
// variance, large enough for the correction to ignore it.
const fallbackVariance = 100.0

// ErrEmptyCloud is returned by Process when preprocessing leaves no points.
// No measurement is emitted for the scan.
var ErrEmptyCloud = errors.New("empty point cloud after preprocessing")

// ErrZeroWeights is returned when every particle weight collapses to zero.
// No measurement is emitted for the scan.
var ErrZeroWeights = errors.New("all particle weights are zero")

// GPF turns raw lidar scans into Gaussian pose pseudo-measurements.
// A GPF holds no scan-to-scan state beyond its randomness source: every scan
// is processed against a fresh particle set.
type GPF struct {
	field   lidarloc.DistanceField
	filter  cloud.Filter
	setSize int
	src     *rnd.Rand
}

// New creates a GPF matching scans against the given distance field.
// A nil src seeds the particle sampler from the wall clock.
func New(field lidarloc.DistanceField, cfg lidarloc.Config, src *rnd.Rand) *GPF {
	cfg = cfg.Sanitized()

	if src == nil {
		src = rnd.New(rnd.NewSource(time.Now().UnixNano()))
	}

	return &GPF{
		field: field,
		filter: cloud.Filter{
			DownsampleRadius:   cfg.DownsampleRadius,
			RangeLimit:         cfg.RangeLimit,
			ExclusionHalfWidth: cfg.ExclusionHalfWidth,
		},
		setSize: cfg.SetSize,
		src:     src,
	}
}

// Process runs one scan through the full pipeline: preprocess, sample a
// particle set from the prior, weight it, compute posterior statistics and
// recover the pseudo-measurement. It returns ErrEmptyCloud or ErrZeroWeights
// when the scan yields no usable measurement; the caller then simply skips
// the correction.
func (g *GPF) Process(c *cloud.Cloud, prior lidarloc.GaussianBelief) (*lidarloc.PoseMeasurement, error) {
	pp := g.filter.Apply(c)
	if len(pp.Points) == 0 {
		return nil, ErrEmptyCloud
	}

	pset, err := NewParticleSet(g.setSize, prior, g.src)
	if err != nil {
		return nil, err
	}

	pset.Weight(pp, g.field)

	posterior, err := pset.Posterior()
	if err != nil {
		return nil, err
	}

	meas, err := Recover(prior, posterior)
	if err != nil {
		return nil, err
	}
	meas.Stamp = pp.Stamp

	return meas, nil
}

// Recover converts prior and posterior beliefs into a Gaussian
// pseudo-measurement via information-form subtraction, removing the prior's
// own contribution so the consumer does not double-count it.
func Recover(prior, posterior lidarloc.GaussianBelief) (*lidarloc.PoseMeasurement, error) {
	priorInv, err := invert(prior.Cov)
	if err != nil {
		return nil, fmt.Errorf("failed to invert prior covariance: %v", err)
	}

	postInv, err := invert(posterior.Cov)
	if err != nil {
		// a degenerate particle spread still yields a usable inverse
		// after regularization
		postInv, err = invert(Regularize(posterior.Cov))
		if err != nil {
			return nil, fmt.Errorf("failed to invert posterior covariance: %v", err)
		}
	}

	// C = (post^-1 - prior^-1)^-1, repaired to positive-definite. An
	// ill-conditioned subtraction is expected whenever the scan barely
	// moved the posterior off the prior; the regularization step absorbs
	// the resulting spectrum.
	diff := &mat.Dense{}
	diff.Sub(postInv, priorInv)

	c, err := invert(diff)
	if err != nil {
		return nil, fmt.Errorf("information subtraction is singular: %v", err)
	}
	cSym := Regularize(denseToSym(c))

	// K = prior*(prior + C)^-1, full-state observation
	sum := &mat.Dense{}
	sum.Add(prior.Cov, cSym)
	sumInv, err := invert(sum)
	if err != nil {
		return nil, fmt.Errorf("failed to invert recovery denominator: %v", err)
	}
	k := &mat.Dense{}
	k.Mul(prior.Cov, sumInv)

	kInv, err := invert(k)
	if err != nil {
		return nil, fmt.Errorf("recovery gain is singular: %v", err)
	}

	// mean = K^-1*(post - prior) + prior
	shift := &mat.VecDense{}
	shift.SubVec(posterior.Mean, prior.Mean)

	mean := &mat.VecDense{}
	mean.MulVec(kInv, shift)
	mean.AddVec(mean, prior.Mean)

	for i := 0; i < mean.Len(); i++ {
		if math.IsNaN(mean.AtVec(i)) || math.IsInf(mean.AtVec(i), 0) {
			return nil, fmt.Errorf("recovered mean is not finite: %v", mat.Formatted(mean.T()))
		}
	}

	return &lidarloc.PoseMeasurement{
		Position: [3]float64{mean.AtVec(0), mean.AtVec(1), mean.AtVec(2)},
		RPY:      [3]float64{mean.AtVec(3), mean.AtVec(4), mean.AtVec(5)},
		PoseCov:  cSym,
		TwistCov: mat.NewSymDense(poseDim, nil),
	}, nil
}

// Regularize repairs a covariance to be positive-definite: non-positive
// eigenvalues are replaced with the fallback variance and the matrix is
// rebuilt from the corrected spectrum. A positive-definite input is returned
// unchanged up to numerical tolerance.
func Regularize(c *mat.SymDense) *mat.SymDense {
	var eig mat.EigenSym
	if ok := eig.Factorize(c, true); !ok {
		// eigendecomposition of a symmetric matrix should not fail;
		// fall back to the large isotropic covariance
		out := mat.NewSymDense(c.SymmetricDim(), nil)
		for i := 0; i < c.SymmetricDim(); i++ {
			out.SetSym(i, i, fallbackVariance)
		}
		return out
	}

	vals := eig.Values(nil)
	for i := range vals {
		if vals[i] <= 0 {
			vals[i] = fallbackVariance
		}
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	e := mat.NewDiagDense(len(vals), vals)

	out := &mat.Dense{}
	out.Mul(&vecs, e)
	out.Mul(out, vecs.T())

	return denseToSym(out)
}

// invert inverts m, tolerating ill-conditioned but solvable matrices: the
// condition warning gonum reports in that case is not a failure here, the
// regularization step downstream deals with the noise it implies.
func invert(m mat.Matrix) (*mat.Dense, error) {
	inv := &mat.Dense{}
	if err := inv.Inverse(m); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	return inv, nil
}

func denseToSym(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

func poseRotation(x mat.Vector) *mat.Dense {
	return pose.FromRPY(x.AtVec(3), x.AtVec(4), x.AtVec(5))
}

func applyPose(r mat.Matrix, t [3]float64, p cloud.Point) [3]float64 {
	return pose.Apply(r, t, [3]float64{p.X, p.Y, p.Z})
}

// Package fusion wires the two estimators together: inertial samples drive
// ESKF propagation, lidar scans are matched by the GPF against the latest
// filter belief, and each recovered pseudo-measurement is applied as exactly
// one correction. The two input streams may arrive on independent
// goroutines; access to the shared filter is serialized by a single lock.
package fusion

import (
	"errors"
	"log"
	rnd "math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/eskf"
	"github.com/fuselab/lidarloc/gpf"
)

// bootstrapVariance is the prior pose variance used before the filter has
// produced its first belief.
const bootstrapVariance = 0.01

// Option configures a Fusion.
type Option func(*Fusion)

// WithOdometry registers fn to receive the odometry emitted after every
// inertial sample.
func WithOdometry(fn func(lidarloc.Odometry)) Option {
	return func(f *Fusion) { f.odomFn = fn }
}

// WithBias registers fn to receive the bias estimate emitted after every
// correction.
func WithBias(fn func(lidarloc.BiasEstimate)) Option {
	return func(f *Fusion) { f.biasFn = fn }
}

// WithMeasurement registers fn to observe every pseudo-measurement the scan
// matcher recovers.
func WithMeasurement(fn func(*lidarloc.PoseMeasurement)) Option {
	return func(f *Fusion) { f.measFn = fn }
}

// WithLogger sets the logger for non-fatal anomalies. The default is the
// standard logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fusion) { f.logger = l }
}

// WithSource fixes the particle sampling randomness source.
func WithSource(src *rnd.Rand) Option {
	return func(f *Fusion) { f.src = src }
}

// Fusion owns the ESKF and the GPF of one platform instance.
type Fusion struct {
	mu      sync.Mutex
	filter  *eskf.ESKF
	matcher *gpf.GPF
	// pending is the queued pseudo-measurement; consumed by exactly one
	// correction on the next inertial sample
	pending *lidarloc.PoseMeasurement

	odomFn func(lidarloc.Odometry)
	biasFn func(lidarloc.BiasEstimate)
	measFn func(*lidarloc.PoseMeasurement)
	logger *log.Logger
	src    *rnd.Rand
}

// New creates a Fusion estimating against the given distance field.
func New(field lidarloc.DistanceField, cfg lidarloc.Config, opts ...Option) *Fusion {
	cfg = cfg.Sanitized()

	f := &Fusion{
		filter: eskf.New(cfg),
		logger: log.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.matcher = gpf.New(field, cfg, f.src)

	return f
}

// OnImu ingests one inertial sample: it propagates the filter, applies a
// pending correction if one is queued, and emits odometry. A correction
// failure never interrupts propagation.
func (f *Fusion) OnImu(s lidarloc.ImuSample) {
	f.mu.Lock()

	if err := f.filter.Propagate(s); err != nil {
		if errors.Is(err, eskf.ErrNonPositiveDT) {
			f.mu.Unlock()
			f.logger.Printf("fusion: dropping imu sample: %v", err)
			return
		}
		// the sample was still propagated with a clamped step
		f.logger.Printf("fusion: imu time anomaly: %v", err)
	}

	var bias *lidarloc.BiasEstimate
	if f.pending != nil {
		m := f.pending
		f.pending = nil

		if err := f.filter.Update(m); err != nil {
			f.logger.Printf("fusion: skipping correction: %v", err)
		} else {
			b := f.filter.Bias()
			bias = &b
		}
	}

	odom := f.filter.Odometry()
	f.mu.Unlock()

	if bias != nil && f.biasFn != nil {
		f.biasFn(*bias)
	}
	if f.odomFn != nil {
		f.odomFn(odom)
	}
}

// OnScan ingests one lidar scan: it pulls the latest filter belief, runs the
// scan matcher, and queues the recovered pseudo-measurement. A scan that
// yields no usable measurement is skipped; propagation is never blocked.
// An unconsumed queued measurement is replaced by a newer one.
func (f *Fusion) OnScan(c *cloud.Cloud) {
	f.mu.Lock()
	prior := f.filter.Belief()
	f.mu.Unlock()

	// until enough propagation has fed every pose dimension the belief
	// covariance is singular and cannot serve as a sampling prior
	var chol mat.Cholesky
	if !chol.Factorize(prior.Cov) {
		prior = bootstrapPrior(prior)
	}

	meas, err := f.matcher.Process(c, prior)
	if err != nil {
		if errors.Is(err, gpf.ErrEmptyCloud) || errors.Is(err, gpf.ErrZeroWeights) {
			f.logger.Printf("fusion: skipping scan: %v", err)
		} else {
			f.logger.Printf("fusion: scan matching failed: %v", err)
		}
		return
	}

	if f.measFn != nil {
		f.measFn(meas)
	}

	f.mu.Lock()
	f.pending = meas
	f.mu.Unlock()
}

// Odometry returns the current filter output.
func (f *Fusion) Odometry() lidarloc.Odometry {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.filter.Odometry()
}

// Bias returns the current inertial bias estimates.
func (f *Fusion) Bias() lidarloc.BiasEstimate {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.filter.Bias()
}

// bootstrapPrior widens a belief that carries no covariance yet.
func bootstrapPrior(prior lidarloc.GaussianBelief) lidarloc.GaussianBelief {
	cov := mat.NewSymDense(prior.Cov.SymmetricDim(), nil)
	for i := 0; i < cov.SymmetricDim(); i++ {
		cov.SetSym(i, i, bootstrapVariance)
	}

	return lidarloc.GaussianBelief{Mean: prior.Mean, Cov: cov}
}

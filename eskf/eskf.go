// Package eskf implements an error-state Kalman filter over a 15-dimensional
// tangent-space perturbation (velocity, orientation, position, accelerometer
// bias, gyroscope bias) of a strap-down inertial nominal state.
package eskf

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/pose"
)

// Error-state block offsets in the 15-dimensional perturbation vector.
const (
	idxVel  = 0
	idxRot  = 3
	idxPos  = 6
	idxBacc = 9
	idxBgyr = 12

	stateDim = 15
	noiseDim = 12
	measDim  = 6
)

// ErrNonPositiveDT is returned by Propagate when the sample's timestamp does
// not advance past the previous one. The sample is dropped, the filter state
// is unchanged, and the next sample is measured against the new timestamp.
var ErrNonPositiveDT = errors.New("non-positive imu time delta")

// ErrImplausibleDT is returned by Propagate when the gap between consecutive
// samples is implausibly large. The step is still applied with the time delta
// clamped to the nominal sample period.
var ErrImplausibleDT = errors.New("implausibly large imu time delta")

// ErrSingularInnovation is returned by Update when the innovation covariance
// cannot be inverted. The correction is skipped; propagation is unaffected.
var ErrSingularInnovation = errors.New("singular innovation covariance")

// ESKF is the error-state Kalman filter. It owns the nominal state and the
// error-state covariance; both are mutated only by Propagate and Update.
// ESKF is not safe for concurrent use: callers serialize access.
type ESKF struct {
	cfg lidarloc.Config

	// nominal state
	velocity [3]float64
	rotation *mat.Dense
	position [3]float64
	biasAcc  [3]float64
	biasGyr  [3]float64

	// error state, zero except transiently inside Update
	dx *mat.VecDense

	// sigma is the error-state covariance
	sigma *mat.SymDense
	// k is the gain of the last correction
	k *mat.Dense

	// smoothed imu inputs consumed by the last propagation
	acc  [3]float64
	gyro [3]float64

	// acceleration smoothing buffer
	accQueue [][3]float64
	accCount int

	gravity [3]float64

	stamp    time.Time
	initTime bool
}

// New creates a new ESKF from the given configuration. Out-of-range
// configuration values are replaced with defaults rather than rejected.
func New(cfg lidarloc.Config) *ESKF {
	cfg = cfg.Sanitized()

	f := &ESKF{
		cfg:      cfg,
		rotation: pose.FromRPY(0, 0, 0),
		biasAcc:  cfg.InitAccBias,
		dx:       mat.NewVecDense(stateDim, nil),
		sigma:    mat.NewSymDense(stateDim, nil),
		k:        mat.NewDense(stateDim, measDim, nil),
		accQueue: make([][3]float64, 0, cfg.AccQueueSize),
		gravity:  [3]float64{0, 0, cfg.Gravity},
		initTime: true,
	}

	return f
}

// Propagate advances the nominal state and the error-state covariance by one
// inertial sample. The first sample uses the nominal period 1/imu_frequency;
// later samples use the timestamp delta, clamped per ErrImplausibleDT.
func (f *ESKF) Propagate(s lidarloc.ImuSample) error {
	dt, err := f.updateTime(s.Stamp)
	if err != nil && errors.Is(err, ErrNonPositiveDT) {
		return err
	}

	f.updateImu(s)
	f.propagateState(dt)
	f.propagateCovariance(dt)

	return err
}

// updateTime computes dt for the incoming stamp and advances the filter clock.
func (f *ESKF) updateTime(stamp time.Time) (float64, error) {
	nominal := 1.0 / f.cfg.ImuFrequency

	if f.initTime {
		f.initTime = false
		f.stamp = stamp
		return nominal, nil
	}

	dt := stamp.Sub(f.stamp).Seconds()
	f.stamp = stamp

	if dt <= 0 {
		return 0, ErrNonPositiveDT
	}
	if dt > 10.0*nominal {
		return nominal, fmt.Errorf("%w: %v", ErrImplausibleDT, dt)
	}

	return dt, nil
}

// updateImu smooths the acceleration through the circular buffer and stores
// the inputs consumed by this propagation step. The raw value is used while
// the buffer is still filling; the running mean once it is full.
func (f *ESKF) updateImu(s lidarloc.ImuSample) {
	size := f.cfg.AccQueueSize

	if f.accCount < size {
		f.accQueue = append(f.accQueue, s.Acc)
		f.acc = s.Acc
	} else {
		f.accQueue[f.accCount%size] = s.Acc

		var avg [3]float64
		for _, a := range f.accQueue {
			for i := 0; i < 3; i++ {
				avg[i] += a[i] / float64(size)
			}
		}
		f.acc = avg
	}
	f.accCount++

	f.gyro = s.Gyro
}

// propagateState applies the first-order strap-down mechanization over dt.
func (f *ESKF) propagateState(dt float64) {
	// world-frame acceleration: R*(a - ba) + g
	aw := pose.Apply(f.rotation, f.gravity, sub3(f.acc, f.biasAcc))

	var velocity, position [3]float64
	for i := 0; i < 3; i++ {
		velocity[i] = f.velocity[i] + aw[i]*dt
		position[i] = f.position[i] + f.velocity[i]*dt + 0.5*aw[i]*dt*dt
	}

	rotation := &mat.Dense{}
	rotation.Mul(f.rotation, pose.Exp(scale3(sub3(f.gyro, f.biasGyr), dt)))
	pose.Renormalize(rotation)

	// biases follow a random walk: no deterministic drift
	f.velocity = velocity
	f.rotation = rotation
	f.position = position
}

// propagateCovariance builds the state-transition Jacobian Fx and the
// noise-input Jacobian Fn and applies Sigma = Fx*Sigma*Fx' + Fn*Q*Fn'.
func (f *ESKF) propagateCovariance(dt float64) {
	fx := mat.NewDense(stateDim, stateDim, nil)
	fn := mat.NewDense(stateDim, noiseDim, nil)

	r := f.rotation
	rs := &mat.Dense{}
	rs.Mul(r, pose.Skew(sub3(f.acc, f.biasAcc)))
	rs.Scale(-dt, rs)

	rdt := &mat.Dense{}
	rdt.Scale(-dt, r)

	rot := pose.Exp(scale3(sub3(f.gyro, f.biasGyr), dt))

	// row dVel: [I, -R*skew(a-ba)*dt, 0, -R*dt, 0]
	setEye(fx, idxVel, idxVel, 1.0)
	setBlock(fx, idxVel, idxRot, rs)
	setBlock(fx, idxVel, idxBacc, rdt)
	// row dRot: [0, Exp((w-bg)*dt)', 0, 0, -I*dt]
	setBlockT(fx, idxRot, idxRot, rot)
	setEye(fx, idxRot, idxBgyr, -dt)
	// row dPos: [I*dt, 0, I, 0, 0]
	setEye(fx, idxPos, idxVel, dt)
	setEye(fx, idxPos, idxPos, 1.0)
	// bias rows are identity
	setEye(fx, idxBacc, idxBacc, 1.0)
	setEye(fx, idxBgyr, idxBgyr, 1.0)

	// noise input rows: dVel <- acc noise via R, dRot <- gyro noise,
	// bias rows <- their random walks, dPos is noise free
	setBlock(fn, idxVel, 0, r)
	setEye(fn, idxRot, 3, 1.0)
	setEye(fn, idxBacc, 6, 1.0)
	setEye(fn, idxBgyr, 9, 1.0)

	q := mat.NewDiagDense(noiseDim, nil)
	for i := 0; i < 3; i++ {
		q.SetDiag(i, sq(f.cfg.SigmaAcc*dt))
		q.SetDiag(i+3, sq(f.cfg.SigmaGyro*dt))
		q.SetDiag(i+6, sq(f.cfg.SigmaAccBias*dt))
		q.SetDiag(i+9, sq(f.cfg.SigmaGyroBias*dt))
	}

	// Fx*Sigma*Fx'
	cov := &mat.Dense{}
	cov.Mul(fx, f.sigma)
	cov.Mul(cov, fx.T())

	// Fn*Q*Fn'
	fnq := &mat.Dense{}
	fnq.Mul(fn, q)
	nq := &mat.Dense{}
	nq.Mul(fnq, fn.T())

	cov.Add(cov, nq)
	copySymmetric(f.sigma, cov)
}

// Update applies one pseudo-measurement as an atomic correction: gain,
// Joseph-form covariance update, injection into the nominal state, and
// error-state reset. The measurement's pose covariance carries the position
// block first; internally the filter observes (rotation, position).
func (f *ESKF) Update(m *lidarloc.PoseMeasurement) error {
	// H observes only the dRot and dPos blocks
	h := mat.NewDense(measDim, stateDim, nil)
	setEye(h, 0, idxRot, 1.0)
	setEye(h, 3, idxPos, 1.0)

	// measurement covariance, reordered to (rotation, position) blocks
	r := swapPoseBlocks(m.PoseCov)

	// S = H*Sigma*H' + R
	sh := &mat.Dense{}
	sh.Mul(f.sigma, h.T())
	s := &mat.Dense{}
	s.Mul(h, sh)
	s.Add(s, r)

	sInv := &mat.Dense{}
	if err := sInv.Inverse(s); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}

	// K = Sigma*H'*S^-1
	gain := &mat.Dense{}
	gain.Mul(sh, sInv)
	f.k.Copy(gain)

	// innovation: rotation error of the measurement relative to the nominal
	// rotation, as a rotation vector, and the position residual. The error
	// state is zero here (reset after the previous correction), so the
	// innovation y - H*x reduces to y.
	rMeas := pose.FromRPY(m.RPY[0], m.RPY[1], m.RPY[2])
	rErr := &mat.Dense{}
	rErr.Mul(f.rotation.T(), rMeas)
	dTheta := pose.Log(rErr)

	y := mat.NewVecDense(measDim, []float64{
		dTheta[0], dTheta[1], dTheta[2],
		m.Position[0] - f.position[0],
		m.Position[1] - f.position[1],
		m.Position[2] - f.position[2],
	})

	// error-state correction
	f.dx.MulVec(gain, y)

	// Joseph form: Sigma = (I-K*H)*Sigma*(I-K*H)' + K*R*K'
	ikh := eye(stateDim)
	kh := &mat.Dense{}
	kh.Mul(gain, h)
	ikh.Sub(ikh, kh)

	cov := &mat.Dense{}
	cov.Mul(ikh, f.sigma)
	cov.Mul(cov, ikh.T())

	kr := &mat.Dense{}
	kr.Mul(gain, r)
	krk := &mat.Dense{}
	krk.Mul(kr, gain.T())
	cov.Add(cov, krk)

	copySymmetric(f.sigma, cov)

	f.injectError()
	f.resetError()

	return nil
}

// injectError empties the error state into the nominal state.
func (f *ESKF) injectError() {
	for i := 0; i < 3; i++ {
		f.velocity[i] += f.dx.AtVec(idxVel + i)
		f.position[i] += f.dx.AtVec(idxPos + i)
		f.biasAcc[i] += f.dx.AtVec(idxBacc + i)
		f.biasGyr[i] += f.dx.AtVec(idxBgyr + i)
	}

	dTheta := [3]float64{
		f.dx.AtVec(idxRot),
		f.dx.AtVec(idxRot + 1),
		f.dx.AtVec(idxRot + 2),
	}
	rotation := &mat.Dense{}
	rotation.Mul(f.rotation, pose.Exp(dTheta))
	pose.Renormalize(rotation)
	f.rotation = rotation
}

// resetError zeroes the error state. This is a post-condition of Update:
// the error state never persists into the next propagation step.
func (f *ESKF) resetError() {
	f.dx.Zero()
}

// Odometry returns the current pose/twist output with covariance blocks
// assembled from the error-state covariance. The orientation covariance is
// rotated into the world frame.
func (f *ESKF) Odometry() lidarloc.Odometry {
	r := f.rotation
	roll, pitch, yaw := pose.ToRPY(r)

	poseCov := f.poseCov()

	twistCov := mat.NewSymDense(measDim, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			twistCov.SetSym(i, j, f.sigma.At(idxVel+i, idxVel+j))
		}
	}
	// angular twist block: isotropic gyro noise
	gv := sq(f.cfg.SigmaGyro)
	for i := 0; i < 3; i++ {
		twistCov.SetSym(i+3, i+3, gv)
	}

	return lidarloc.Odometry{
		Stamp:           f.stamp,
		Position:        f.position,
		RPY:             [3]float64{roll, pitch, yaw},
		Velocity:        f.velocity,
		AngularVelocity: sub3(f.gyro, f.biasGyr),
		PoseCov:         poseCov,
		TwistCov:        twistCov,
	}
}

// Bias returns the current inertial bias estimates.
func (f *ESKF) Bias() lidarloc.BiasEstimate {
	return lidarloc.BiasEstimate{
		Stamp:    f.stamp,
		AccBias:  f.biasAcc,
		GyroBias: f.biasGyr,
	}
}

// Belief returns the current 6-DOF pose belief consumed as the particle
// filter prior.
func (f *ESKF) Belief() lidarloc.GaussianBelief {
	roll, pitch, yaw := pose.ToRPY(f.rotation)

	mean := mat.NewVecDense(measDim, []float64{
		f.position[0], f.position[1], f.position[2],
		roll, pitch, yaw,
	})

	return lidarloc.GaussianBelief{Mean: mean, Cov: f.poseCov()}
}

// poseCov assembles the 6x6 pose covariance, position block first, with the
// orientation block rotated into the world frame.
func (f *ESKF) poseCov() *mat.SymDense {
	r := f.rotation

	// rotate the dTheta blocks into the world frame
	tt := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			tt.Set(i, j, f.sigma.At(idxRot+i, idxRot+j))
		}
	}
	rtr := &mat.Dense{}
	rtr.Mul(r, tt)
	rtr.Mul(rtr, r.T())

	pt := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			pt.Set(i, j, f.sigma.At(idxPos+i, idxRot+j))
		}
	}
	ptr := &mat.Dense{}
	ptr.Mul(pt, r.T())

	cov := mat.NewSymDense(measDim, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, f.sigma.At(idxPos+i, idxPos+j))
			cov.SetSym(i+3, j+3, 0.5*(rtr.At(i, j)+rtr.At(j, i)))
		}
		for j := 0; j < 3; j++ {
			cov.SetSym(i, j+3, ptr.At(i, j))
		}
	}

	return cov
}

// Cov returns a copy of the error-state covariance.
func (f *ESKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(f.sigma.SymmetricDim(), nil)
	cov.CopySym(f.sigma)

	return cov
}

// SetCov sets the error-state covariance to cov.
// It returns error if cov is nil or has mismatched dimensions.
func (f *ESKF) SetCov(cov mat.Symmetric) error {
	if cov == nil {
		return fmt.Errorf("invalid covariance matrix: %v", cov)
	}
	if cov.SymmetricDim() != stateDim {
		return fmt.Errorf("invalid covariance matrix dims: [%d x %d]", cov.SymmetricDim(), cov.SymmetricDim())
	}

	f.sigma.CopySym(cov)

	return nil
}

// Gain returns the Kalman gain of the last correction.
func (f *ESKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(f.k)

	return gain
}

// ErrorState returns a copy of the error state. Outside of Update it is
// always the zero vector.
func (f *ESKF) ErrorState() mat.Vector {
	dx := &mat.VecDense{}
	dx.CloneFromVec(f.dx)

	return dx
}

// swapPoseBlocks reorders a (position, rotation) 6x6 covariance into
// (rotation, position) block order.
func swapPoseBlocks(c *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(measDim, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			out.SetSym(i, j, c.At(i+3, j+3))
			out.SetSym(i+3, j+3, c.At(i, j))
		}
		for j := 0; j < 3; j++ {
			out.SetSym(i, j+3, c.At(i+3, j))
		}
	}

	return out
}

func setBlock(dst *mat.Dense, row, col int, m mat.Matrix) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(row+i, col+j, m.At(i, j))
		}
	}
}

func setBlockT(dst *mat.Dense, row, col int, m mat.Matrix) {
	setBlock(dst, row, col, m.T())
}

func setEye(dst *mat.Dense, row, col int, v float64) {
	for i := 0; i < 3; i++ {
		dst.Set(row+i, col+i, v)
	}
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

func copySymmetric(dst *mat.SymDense, src *mat.Dense) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(src.At(i, j)+src.At(j, i)))
		}
	}
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale3(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func sq(v float64) float64 { return v * v }

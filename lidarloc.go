package lidarloc

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// DistanceField is a read-only spatial structure built from prior map data.
// It reports how likely a 3-D point is to lie on a known surface.
type DistanceField interface {
	// Likelihood returns the occupancy likelihood of the point (x, y, z)
	// in the map frame. The returned value is in [0, 1]: 0 for free or
	// unknown space, approaching 1 close to a mapped surface.
	Likelihood(x, y, z float64) float64
}

// ImuSample is a single timestamped inertial reading in the body frame.
// Orientation reported by the sensor, if any, is not part of the sample:
// propagation only consumes acceleration and angular velocity.
type ImuSample struct {
	// Stamp is the acquisition time of the sample
	Stamp time.Time
	// Acc is linear acceleration in m/s^2
	Acc [3]float64
	// Gyro is angular velocity in rad/s
	Gyro [3]float64
}

// GaussianBelief is a Gaussian over a 6-DOF pose.
// Mean is the 6-vector (x, y, z, roll, pitch, yaw) and Cov its 6x6
// covariance with the position block first and the orientation block second.
type GaussianBelief struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// Clone returns a deep copy of the belief.
func (b GaussianBelief) Clone() GaussianBelief {
	mean := &mat.VecDense{}
	mean.CloneFromVec(b.Mean)

	cov := mat.NewSymDense(b.Cov.SymmetricDim(), nil)
	cov.CopySym(b.Cov)

	return GaussianBelief{Mean: mean, Cov: cov}
}

// PoseMeasurement is a Gaussian pseudo-measurement of the platform pose,
// recovered from a single lidar scan match. It is consumed exactly once
// as an atomic correction event.
type PoseMeasurement struct {
	// Stamp is the acquisition time of the scan the measurement was
	// recovered from
	Stamp time.Time
	// Position is the measured position in the map frame
	Position [3]float64
	// RPY is the measured orientation as roll/pitch/yaw
	RPY [3]float64
	// PoseCov is the 6x6 pose covariance, position block first
	PoseCov *mat.SymDense
	// TwistCov is a secondary 6x6 twist covariance channel. It is carried
	// alongside the pose but not consumed by the pose correction.
	TwistCov *mat.SymDense
}

// Odometry is the filter output emitted once per inertial sample.
type Odometry struct {
	Stamp time.Time
	// Position and RPY describe the nominal pose in the map frame
	Position [3]float64
	RPY      [3]float64
	// Velocity is the nominal linear velocity in the map frame
	Velocity [3]float64
	// AngularVelocity is the bias-corrected body angular rate
	AngularVelocity [3]float64
	// PoseCov and TwistCov are 6x6 covariance blocks, position
	// (resp. linear) block first
	PoseCov  *mat.SymDense
	TwistCov *mat.SymDense
}

// BiasEstimate is the inertial bias output emitted once per correction.
type BiasEstimate struct {
	Stamp    time.Time
	AccBias  [3]float64
	GyroBias [3]float64
}

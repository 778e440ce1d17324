// Package sim generates synthetic worlds for offline runs: a shell of
// landmarks around the origin, the occupancy map built from them, and
// the IMU and lidar streams a stationary platform would observe.
package sim

import (
	"fmt"
	"math"
	rnd "math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/distmap"
	"github.com/fuselab/lidarloc/noise"
	"github.com/fuselab/lidarloc/pose"
)

// Scenario is a synthetic world and the sensor streams observed in it.
type Scenario struct {
	// Landmarks are the world-frame surface points the lidar can see.
	Landmarks []cloud.Point

	cfg      lidarloc.Config
	imuNoise noise.Noise
	start    time.Time

	// circular path parameters; zero rate means stationary
	radius float64
	rate   float64
}

// NewScenario builds a scenario with n landmarks scattered on a shell
// between rMin and rMax around the origin. IMU samples are corrupted
// with zero-mean Gaussian noise at the configured accelerometer and
// gyroscope densities; pass the same seed to reproduce a run.
func NewScenario(cfg lidarloc.Config, n int, rMin, rMax float64, seed uint64) (*Scenario, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid landmark count: %d", n)
	}
	if rMin <= 0 || rMax <= rMin {
		return nil, fmt.Errorf("invalid shell radii: %v, %v", rMin, rMax)
	}

	src := rnd.New(rnd.NewSource(int64(seed)))
	pts := make([]cloud.Point, 0, n)
	for len(pts) < n {
		p := cloud.Point{
			X: (2*src.Float64() - 1) * rMax,
			Y: (2*src.Float64() - 1) * rMax,
			Z: (2*src.Float64() - 1) * rMax,
		}
		d := dist(p)
		if d < rMin || d > rMax {
			continue
		}
		pts = append(pts, p)
	}

	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 3; i++ {
		cov.SetSym(i, i, cfg.SigmaAcc*cfg.SigmaAcc)
		cov.SetSym(i+3, i+3, cfg.SigmaGyro*cfg.SigmaGyro)
	}
	gn, err := noise.NewGaussian(make([]float64, 6), cov, seed)
	if err != nil {
		return nil, err
	}

	return &Scenario{
		Landmarks: pts,
		cfg:       cfg,
		imuNoise:  gn,
		start:     time.Now(),
	}, nil
}

// Circle puts the platform on a circular path of the given radius, driven at
// a constant yaw rate in rad/s with the body x axis tangent to the path. A
// zero rate reverts to the stationary platform.
func (s *Scenario) Circle(radius, rate float64) {
	s.radius = radius
	s.rate = rate
}

// PoseAt returns the true world pose of the platform at the i-th sample.
func (s *Scenario) PoseAt(i int) (position, rpy [3]float64) {
	if s.rate == 0 {
		return [3]float64{}, [3]float64{}
	}

	t := float64(i) / s.cfg.ImuFrequency
	yaw := s.rate * t

	return [3]float64{
		s.radius * math.Sin(yaw),
		s.radius * (1 - math.Cos(yaw)),
		0,
	}, [3]float64{0, 0, yaw}
}

// Quiet disables IMU noise so the streams become deterministic.
func (s *Scenario) Quiet() error {
	z, err := noise.NewZero(6)
	if err != nil {
		return err
	}
	s.imuNoise = z
	return nil
}

// Map builds the smoothed occupancy grid of the landmarks at the given
// resolution and smoothing radius. The grid bounds enclose all
// landmarks with one smoothing radius of margin.
func (s *Scenario) Map(res, sigma float64) (*distmap.Grid, error) {
	min := [3]float64{0, 0, 0}
	max := [3]float64{0, 0, 0}
	for _, p := range s.Landmarks {
		for i, v := range [3]float64{p.X, p.Y, p.Z} {
			if v < min[i] {
				min[i] = v
			}
			if v > max[i] {
				max[i] = v
			}
		}
	}
	margin := 3 * sigma
	for i := 0; i < 3; i++ {
		min[i] -= margin
		max[i] += margin
	}

	g, err := distmap.NewGrid(min, max, res)
	if err != nil {
		return nil, err
	}
	for _, p := range s.Landmarks {
		g.Add(p.X, p.Y, p.Z)
	}
	g.Smooth(sigma)

	return g, nil
}

// ImuAt returns the i-th inertial sample in the body frame, plus sensor
// noise. A stationary platform reads the gravity reaction alone; on the
// circular path the centripetal acceleration is constant in the body frame
// and the gyroscope reads the yaw rate.
func (s *Scenario) ImuAt(i int) lidarloc.ImuSample {
	period := time.Duration(float64(time.Second) / s.cfg.ImuFrequency)
	n := s.imuNoise.Sample()

	centripetal := s.radius * s.rate * s.rate

	return lidarloc.ImuSample{
		Stamp: s.start.Add(time.Duration(i) * period),
		Acc:   [3]float64{n.AtVec(0), n.AtVec(1) + centripetal, n.AtVec(2) - s.cfg.Gravity},
		Gyro:  [3]float64{n.AtVec(3), n.AtVec(4), n.AtVec(5) + s.rate},
	}
}

// ScanAt renders the landmarks into the sensor frame of a platform at
// the given world position and orientation.
func (s *Scenario) ScanAt(position, rpy [3]float64, stamp time.Time) *cloud.Cloud {
	r := pose.FromRPY(rpy[0], rpy[1], rpy[2])

	pts := make([]cloud.Point, len(s.Landmarks))
	for i, lm := range s.Landmarks {
		d := [3]float64{lm.X - position[0], lm.Y - position[1], lm.Z - position[2]}
		// sensor frame: transpose rotation applied to the offset
		q := pose.Apply(r.T(), [3]float64{0, 0, 0}, d)
		pts[i] = cloud.Point{X: q[0], Y: q[1], Z: q[2]}
	}

	return &cloud.Cloud{Stamp: stamp, Points: pts}
}

func dist(p cloud.Point) float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	lidarloc "github.com/fuselab/lidarloc"
)

func TestNewScenario(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 50, 1.5, 2.5, 7)
	assert.NoError(err)
	assert.Equal(50, len(s.Landmarks))
	for _, p := range s.Landmarks {
		d := dist(p)
		assert.True(d >= 1.5 && d <= 2.5, "landmark off the shell: %v", d)
	}

	s, err = NewScenario(cfg, 0, 1.5, 2.5, 7)
	assert.Nil(s)
	assert.Error(err)

	s, err = NewScenario(cfg, 50, 2.5, 1.5, 7)
	assert.Nil(s)
	assert.Error(err)
}

func TestScenarioReproducible(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	a, err := NewScenario(cfg, 20, 1.5, 2.5, 42)
	assert.NoError(err)
	b, err := NewScenario(cfg, 20, 1.5, 2.5, 42)
	assert.NoError(err)

	assert.Equal(a.Landmarks, b.Landmarks)
}

func TestQuietImuStream(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 20, 1.5, 2.5, 7)
	assert.NoError(err)
	assert.NoError(s.Quiet())

	prev := s.ImuAt(0)
	assert.Equal([3]float64{0, 0, -cfg.Gravity}, prev.Acc)
	assert.Equal([3]float64{0, 0, 0}, prev.Gyro)

	next := s.ImuAt(1)
	assert.Equal(20*time.Millisecond, next.Stamp.Sub(prev.Stamp))
}

func TestNoisyImuStream(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 20, 1.5, 2.5, 7)
	assert.NoError(err)

	// noise averages out over the stream
	var mean [3]float64
	const n = 2000
	for i := 0; i < n; i++ {
		acc := s.ImuAt(i).Acc
		for j := 0; j < 3; j++ {
			mean[j] += acc[j] / n
		}
	}
	assert.InDelta(0.0, mean[0], 0.02)
	assert.InDelta(0.0, mean[1], 0.02)
	assert.InDelta(-cfg.Gravity, mean[2], 0.02)
}

func TestCirclePath(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 20, 1.5, 2.5, 7)
	assert.NoError(err)
	assert.NoError(s.Quiet())

	// stationary by default
	position, rpy := s.PoseAt(10)
	assert.Equal([3]float64{0, 0, 0}, position)
	assert.Equal([3]float64{0, 0, 0}, rpy)

	s.Circle(2.0, 0.5)

	// the path starts at the origin heading along x
	position, rpy = s.PoseAt(0)
	assert.Equal([3]float64{0, 0, 0}, position)
	assert.Equal([3]float64{0, 0, 0}, rpy)

	// a quarter turn later the platform sits at (R, R) facing y
	quarter := int(math.Pi / 2 / 0.5 * cfg.ImuFrequency)
	position, rpy = s.PoseAt(quarter)
	assert.InDelta(2.0, position[0], 5e-3)
	assert.InDelta(2.0, position[1], 5e-3)
	assert.InDelta(math.Pi/2, rpy[2], 5e-3)

	// every point of the path stays on the circle around (0, R)
	for i := 0; i < 100; i += 10 {
		position, _ = s.PoseAt(i)
		d := math.Hypot(position[0], position[1]-2.0)
		assert.InDelta(2.0, d, 1e-9)
	}

	// body-frame readings are constant: centripetal y accel and yaw rate
	sample := s.ImuAt(3)
	assert.InDelta(2.0*0.5*0.5, sample.Acc[1], 1e-12)
	assert.InDelta(-cfg.Gravity, sample.Acc[2], 1e-12)
	assert.InDelta(0.5, sample.Gyro[2], 1e-12)
}

func TestScanAt(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 30, 1.5, 2.5, 7)
	assert.NoError(err)

	// at the origin with identity orientation the scan is the landmarks
	c := s.ScanAt([3]float64{0, 0, 0}, [3]float64{0, 0, 0}, time.Now())
	assert.Equal(len(s.Landmarks), len(c.Points))
	for i, p := range c.Points {
		assert.InDelta(s.Landmarks[i].X, p.X, 1e-12)
		assert.InDelta(s.Landmarks[i].Y, p.Y, 1e-12)
		assert.InDelta(s.Landmarks[i].Z, p.Z, 1e-12)
	}

	// a yaw of pi/2 rotates sensor-frame returns by -pi/2
	c = s.ScanAt([3]float64{0, 0, 0}, [3]float64{0, 0, math.Pi / 2}, time.Now())
	for i, p := range c.Points {
		assert.InDelta(s.Landmarks[i].Y, p.X, 1e-9)
		assert.InDelta(-s.Landmarks[i].X, p.Y, 1e-9)
		assert.InDelta(s.Landmarks[i].Z, p.Z, 1e-9)
	}

	// translation shifts returns the opposite way
	c = s.ScanAt([3]float64{1, 0, 0}, [3]float64{0, 0, 0}, time.Now())
	for i, p := range c.Points {
		assert.InDelta(s.Landmarks[i].X-1, p.X, 1e-12)
	}
}

func TestScenarioMap(t *testing.T) {
	assert := assert.New(t)

	cfg := lidarloc.DefaultConfig()

	s, err := NewScenario(cfg, 30, 1.5, 2.5, 7)
	assert.NoError(err)

	g, err := s.Map(0.05, 0.1)
	assert.NoError(err)

	// every landmark sits on a high-likelihood voxel
	for _, p := range s.Landmarks {
		assert.True(g.Likelihood(p.X, p.Y, p.Z) > 0.5)
	}

	// the origin is empty space well away from the shell
	assert.InDelta(0.0, g.Likelihood(0, 0, 0), 1e-6)
}

package main

import (
	"fmt"
	"log"
	rnd "math/rand"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/fusion"
	"github.com/fuselab/lidarloc/gpf"
	"github.com/fuselab/lidarloc/sim"
)

// ReplayCmd runs the localizer against a synthetic stationary scenario
// and writes trajectory and particle plots.
type ReplayCmd struct {
	Duration  time.Duration `default:"10s" help:"Length of the replayed run."`
	ScanEvery int           `default:"25" help:"Number of IMU samples between scans."`
	Landmarks int           `default:"200" help:"Number of landmarks on the shell."`
	RMin      float64       `default:"2" help:"Inner shell radius in meters."`
	RMax      float64       `default:"4" help:"Outer shell radius in meters."`
	Seed      uint64        `default:"42" help:"Scenario random seed."`

	Radius float64 `default:"0" help:"Circular path radius in meters; 0 keeps the platform stationary."`
	Rate   float64 `default:"0" help:"Circular path yaw rate in rad/s."`

	Resolution float64 `default:"0.05" help:"Map voxel resolution in meters."`
	Sigma      float64 `default:"0.1" help:"Map smoothing radius in meters."`

	Out string `default:"." help:"Output directory for plots." type:"path"`
}

func (r *ReplayCmd) Run(root *CLI) error {
	logger := log.New(os.Stderr, "lidarloc: ", log.LstdFlags)

	cfg, err := lidarloc.LoadConfig(root.Config)
	if err != nil {
		return err
	}

	scenario, err := sim.NewScenario(cfg, r.Landmarks, r.RMin, r.RMax, r.Seed)
	if err != nil {
		return err
	}
	if r.Rate != 0 {
		scenario.Circle(r.Radius, r.Rate)
	}

	grid, err := scenario.Map(r.Resolution, r.Sigma)
	if err != nil {
		return err
	}

	var truth, estimate [][2]float64
	f := fusion.New(grid, cfg,
		fusion.WithLogger(logger),
		fusion.WithSource(rnd.New(rnd.NewSource(int64(r.Seed)))),
		fusion.WithOdometry(func(o lidarloc.Odometry) {
			estimate = append(estimate, [2]float64{o.Position[0], o.Position[1]})
		}),
	)

	n := int(r.Duration.Seconds() * cfg.ImuFrequency)
	if n <= 0 {
		return fmt.Errorf("duration %v too short for any sample", r.Duration)
	}

	logger.Printf("replaying %d samples, scan every %d", n, r.ScanEvery)

	for i := 0; i < n; i++ {
		s := scenario.ImuAt(i)
		position, rpy := scenario.PoseAt(i)
		truth = append(truth, [2]float64{position[0], position[1]})

		f.OnImu(s)
		if r.ScanEvery > 0 && i%r.ScanEvery == 0 {
			f.OnScan(scenario.ScanAt(position, rpy, s.Stamp))
		}
	}

	out := f.Odometry()
	logger.Printf("final position: %.3f %.3f %.3f", out.Position[0], out.Position[1], out.Position[2])

	if err := r.savePlots(cfg, scenario, grid, truth, estimate, out); err != nil {
		return err
	}

	return nil
}

func (r *ReplayCmd) savePlots(cfg lidarloc.Config, scenario *sim.Scenario, field lidarloc.DistanceField, truth, estimate [][2]float64, out lidarloc.Odometry) error {
	tm := mat.NewDense(len(truth), 2, nil)
	for i, t := range truth {
		tm.Set(i, 0, t[0])
		tm.Set(i, 1, t[1])
	}
	est := mat.NewDense(len(estimate), 2, nil)
	for i, e := range estimate {
		est.Set(i, 0, e[0])
		est.Set(i, 1, e[1])
	}

	p, err := sim.TrajectoryPlot(tm, est)
	if err != nil {
		return err
	}
	path := filepath.Join(r.Out, "trajectory.png")
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return err
	}

	// weight one particle set around the final estimate for inspection
	mean := mat.NewVecDense(6, []float64{
		out.Position[0], out.Position[1], out.Position[2],
		out.RPY[0], out.RPY[1], out.RPY[2],
	})
	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		cov.SetSym(i, i, 0.01)
	}
	prior := lidarloc.GaussianBelief{Mean: mean, Cov: cov}

	ps, err := gpf.NewParticleSet(cfg.SetSize, prior, rnd.New(rnd.NewSource(int64(r.Seed))))
	if err != nil {
		return err
	}
	ps.Weight(scenario.ScanAt(out.Position, out.RPY, out.Stamp), field)

	pp, err := sim.ParticlePlot(ps.Particles(), ps.Weights())
	if err != nil {
		return err
	}
	path = filepath.Join(r.Out, "particles.png")

	return pp.Save(6*vg.Inch, 6*vg.Inch, path)
}

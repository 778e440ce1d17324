package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"gonum.org/v1/gonum/mat"

	lidarloc "github.com/fuselab/lidarloc"
	"github.com/fuselab/lidarloc/cloud"
	"github.com/fuselab/lidarloc/distmap"
	"github.com/fuselab/lidarloc/fusion"
)

// RunCmd bridges the localizer onto an MQTT broker: it subscribes to the
// raw IMU and point cloud topics and publishes odometry, bias and pose
// measurement estimates.
type RunCmd struct {
	Map string `arg:"" help:"Path to the map cloud JSON file." type:"path"`

	Broker   string `default:"tcp://127.0.0.1:1883" help:"MQTT broker address."`
	ClientID string `name:"client-id" default:"lidarloc" help:"MQTT client identifier."`

	ImuTopic   string `default:"lidarloc/imu" help:"Topic carrying IMU samples."`
	CloudTopic string `default:"lidarloc/cloud" help:"Topic carrying point clouds."`
	OdomTopic  string `default:"lidarloc/odom" help:"Topic odometry is published on."`
	BiasTopic  string `default:"lidarloc/bias" help:"Topic bias estimates are published on."`
	MeasTopic  string `default:"lidarloc/measurement" help:"Topic recovered pose measurements are published on."`

	Resolution float64 `default:"0.05" help:"Map voxel resolution in meters."`
	Sigma      float64 `default:"0.1" help:"Map smoothing radius in meters."`
}

type imuMsg struct {
	Stamp int64      `json:"stamp"`
	Acc   [3]float64 `json:"acc"`
	Gyro  [3]float64 `json:"gyro"`
}

type cloudMsg struct {
	Stamp  int64        `json:"stamp"`
	Points [][3]float64 `json:"points"`
}

type odomMsg struct {
	Stamp           int64      `json:"stamp"`
	Position        [3]float64 `json:"position"`
	RPY             [3]float64 `json:"rpy"`
	Velocity        [3]float64 `json:"velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity"`
	PoseCov         []float64  `json:"pose_cov"`
	TwistCov        []float64  `json:"twist_cov"`
}

type biasMsg struct {
	Stamp    int64      `json:"stamp"`
	AccBias  [3]float64 `json:"acc_bias"`
	GyroBias [3]float64 `json:"gyro_bias"`
}

type measMsg struct {
	Stamp    int64      `json:"stamp"`
	Position [3]float64 `json:"position"`
	RPY      [3]float64 `json:"rpy"`
	PoseCov  []float64  `json:"pose_cov"`
}

type mapFile struct {
	Points [][3]float64 `json:"points"`
}

func (r *RunCmd) Run(root *CLI) error {
	logger := log.New(os.Stderr, "lidarloc: ", log.LstdFlags)

	cfg, err := lidarloc.LoadConfig(root.Config)
	if err != nil {
		return err
	}

	grid, err := r.loadMap()
	if err != nil {
		return fmt.Errorf("failed to load map: %v", err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(r.Broker)
	opts.SetClientID(r.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(3 * time.Second)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to %s: %v", r.Broker, token.Error())
	}
	defer client.Disconnect(250)

	publish := func(topic string, msg interface{}) {
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Printf("failed to marshal %s message: %v", topic, err)
			return
		}
		client.Publish(topic, 0, false, data)
	}

	f := fusion.New(grid, cfg,
		fusion.WithLogger(logger),
		fusion.WithOdometry(func(o lidarloc.Odometry) {
			publish(r.OdomTopic, odomMsg{
				Stamp:           o.Stamp.UnixNano(),
				Position:        o.Position,
				RPY:             o.RPY,
				Velocity:        o.Velocity,
				AngularVelocity: o.AngularVelocity,
				PoseCov:         symToSlice(o.PoseCov),
				TwistCov:        symToSlice(o.TwistCov),
			})
		}),
		fusion.WithBias(func(b lidarloc.BiasEstimate) {
			publish(r.BiasTopic, biasMsg{
				Stamp:    b.Stamp.UnixNano(),
				AccBias:  b.AccBias,
				GyroBias: b.GyroBias,
			})
		}),
		fusion.WithMeasurement(func(m *lidarloc.PoseMeasurement) {
			publish(r.MeasTopic, measMsg{
				Stamp:    m.Stamp.UnixNano(),
				Position: m.Position,
				RPY:      m.RPY,
				PoseCov:  symToSlice(m.PoseCov),
			})
		}),
	)

	imuHandler := func(_ paho.Client, msg paho.Message) {
		var m imuMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logger.Printf("dropping malformed imu message: %v", err)
			return
		}
		f.OnImu(lidarloc.ImuSample{
			Stamp: time.Unix(0, m.Stamp),
			Acc:   m.Acc,
			Gyro:  m.Gyro,
		})
	}
	if token := client.Subscribe(r.ImuTopic, 0, imuHandler); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	cloudHandler := func(_ paho.Client, msg paho.Message) {
		var m cloudMsg
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			logger.Printf("dropping malformed cloud message: %v", err)
			return
		}
		pts := make([]cloud.Point, len(m.Points))
		for i, p := range m.Points {
			pts[i] = cloud.Point{X: p[0], Y: p[1], Z: p[2]}
		}
		f.OnScan(&cloud.Cloud{Stamp: time.Unix(0, m.Stamp), Points: pts})
	}
	if token := client.Subscribe(r.CloudTopic, 0, cloudHandler); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	logger.Printf("connected to %s, listening on %s and %s", r.Broker, r.ImuTopic, r.CloudTopic)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Print("shutting down")

	return nil
}

func (r *RunCmd) loadMap() (*distmap.Grid, error) {
	data, err := os.ReadFile(r.Map)
	if err != nil {
		return nil, err
	}

	var mf mapFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	if len(mf.Points) == 0 {
		return nil, fmt.Errorf("map %s holds no points", r.Map)
	}

	min := mf.Points[0]
	max := mf.Points[0]
	for _, p := range mf.Points {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	margin := 3 * r.Sigma
	for i := 0; i < 3; i++ {
		min[i] -= margin
		max[i] += margin
	}

	grid, err := distmap.NewGrid(min, max, r.Resolution)
	if err != nil {
		return nil, err
	}
	for _, p := range mf.Points {
		grid.Add(p[0], p[1], p[2])
	}
	grid.Smooth(r.Sigma)

	return grid, nil
}

func symToSlice(m *mat.SymDense) []float64 {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

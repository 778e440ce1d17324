// Command lidarloc runs the lidar inertial localizer. It either bridges
// live sensor streams over MQTT or replays a synthetic scenario offline
// and plots the results.
package main

import (
	"github.com/alecthomas/kong"
)

type CLI struct {
	Config string `short:"c" help:"Path to the JSON config file." type:"path"`

	Run    RunCmd    `cmd:"" help:"Bridge live sensor streams over MQTT."`
	Replay ReplayCmd `cmd:"" help:"Replay a synthetic scenario and plot the results."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("lidarloc"),
		kong.Description("Lidar inertial localization."),
		kong.UsageOnError(),
		kong.HelpOptions{Compact: true},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	control "twinthrust/closed_loop/flight_control"
	"twinthrust/utils"
)

func main() {
	var (
		scenPath = flag.String("scenario", "", "Scenario JSON/YAML file (defaults when empty)")
		logLevel = flag.String("log", "info", "trace|debug|info|warn|error|critical")
		logPath  = flag.String("logfile", "twinthrust.log", "Log file")
		iface    = flag.String("iface", "", "SocketCAN interface; enables the bus when set")
		mapPath  = flag.String("map", "", "Path to the CAN map CSV (embedded map when empty)")
		targets  = flag.String("targets", "", "Targets CSV (header row, then x,y per line)")
		seed     = flag.Uint64("seed", 0, "Vehicle seed")
		windOn   = flag.Bool("wind", true, "Enable wind")
		ticks    = flag.Int("ticks", 0, "Ticks per episode (overrides duration)")
		plotDir  = flag.String("plot", "", "Directory for error plots")
		dbPath   = flag.String("db", "", "SQLite file for run recording")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("WARNING: cannot read .env: " + err.Error() + "\n")
	}

	// Logger filters by its own min level; zerolog's global floor is Debug.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log, err := utils.NewFileLogger(*logPath, utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logPath + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	scen, err := LoadScenario(*scenPath)
	if err != nil {
		log.Critical("Scenario: %v", err)
		os.Exit(1)
	}

	// explicitly set flags win over the scenario
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			scen.Bus.Enabled = true
			scen.Bus.Interface = *iface
		case "map":
			scen.Bus.MapPath = *mapPath
		case "targets":
			scen.Targets.Path = *targets
		case "seed":
			scen.Vehicle.Seed = *seed
		case "wind":
			scen.Wind.Enabled = *windOn
		case "ticks":
			scen.Timing.DurationS = float64(*ticks) * scen.Timing.DtS
		case "plot":
			scen.Telemetry.PlotDir = *plotDir
		case "db":
			scen.Telemetry.DBPath = *dbPath
		}
	})
	if err := scen.Validate(); err != nil {
		log.Critical("Scenario: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, scen, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}

	err = runner.Run(ctx)
	runner.Close()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, control.ErrMalformedAction):
		log.Critical("Controller returned a malformed action: %v", err)
		os.Exit(1)
	default:
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

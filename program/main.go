package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tui "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// server
	WSURL    string
	StatsURL string

	// grouping
	Threshold time.Duration
	Key       string

	// burst leaderboard
	BurstK      int
	BurstWindow time.Duration
	BurstTick   time.Duration

	// input
	InputPath string
	Pace      time.Duration
	Mouse     bool

	// render
	LogScale     bool
	ViewSplit    int
	StatsEnabled bool
	StatsWindow  int
	AltScreen    bool

	LogFile string
}

var config = Config{
	WSURL:    "ws://localhost:8000/ws",
	StatsURL: "http://localhost:8000/stats",

	Threshold: 500 * time.Millisecond,
	Key:       "space",

	BurstK:      10,
	BurstWindow: time.Minute,
	BurstTick:   time.Second,

	InputPath: "",
	Pace:      0,
	Mouse:     true,

	LogScale:     false,
	ViewSplit:    30,
	StatsEnabled: true,
	StatsWindow:  64,
	AltScreen:    true,

	LogFile: "",
}

func main() {
	log.SetOutput(os.Stdout)
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()
	applyEnv()

	flag.StringVar(&config.WSURL, "ws", config.WSURL, "Live channel WebSocket URL (env VISITOR_WS_URL)")
	flag.StringVar(&config.StatsURL, "stats-url", config.StatsURL, "Snapshot endpoint fetched once at startup (env VISITOR_STATS_URL)")
	flag.DurationVar(&config.Threshold, "threshold", config.Threshold, "Maximum gap between ticks of the same group")
	flag.StringVar(&config.Key, "key", config.Key, "Key that counts a visitor (e.g. space, enter, v)")
	flag.IntVar(&config.BurstK, "burst-k", config.BurstK, "Number of group sizes shown in the leaderboard")
	flag.DurationVar(&config.BurstWindow, "burst-window", config.BurstWindow, "Sliding window of the group size leaderboard")
	flag.DurationVar(&config.BurstTick, "burst-tick", config.BurstTick, "Leaderboard window precision")
	flag.StringVar(&config.InputPath, "in", config.InputPath, "Read ticks from this file, one per line, instead of stdin")
	flag.DurationVar(&config.Pace, "pace", config.Pace, "Sleep between scripted ticks (e.g. 50ms, 1s)")
	flag.BoolVar(&config.Mouse, "mouse", config.Mouse, "Count clicks on the on-screen key")
	flag.BoolVar(&config.LogScale, "log-scale", config.LogScale, "Use a logarithmic Y axis scale (default: linear)")
	flag.IntVar(&config.ViewSplit, "view-split", config.ViewSplit, "Split the view at this % of the total screen width [20,80]")
	flag.BoolVar(&config.StatsEnabled, "stats", config.StatsEnabled, "Show session stats")
	flag.IntVar(&config.StatsWindow, "stats-window", config.StatsWindow, "Number of recent round trips kept")
	flag.BoolVar(&config.AltScreen, "alt-screen", config.AltScreen, "Use the terminal alternate screen buffer (recommended inside IDE terminals)")
	flag.StringVar(&config.LogFile, "log-file", config.LogFile, "Write debug logs to this file")

	flag.Parse()

	if err := validateAndNormalizeConfig(); err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(config.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	m := newModel(context.Background(), logger, time.Now)
	defer m.teardown()

	opts := []tui.ProgramOption{tui.WithInputTTY()}
	if config.AltScreen {
		opts = append(opts, tui.WithAltScreen())
	}
	if config.Mouse {
		opts = append(opts, tui.WithMouseCellMotion())
	}
	if _, err := tui.NewProgram(m, opts...).Run(); err != nil {
		logger.Error("program failed", zap.Error(err))
		log.Fatal(err)
	}
}

func applyEnv() {
	if v := os.Getenv("VISITOR_WS_URL"); v != "" {
		config.WSURL = v
	}
	if v := os.Getenv("VISITOR_STATS_URL"); v != "" {
		config.StatsURL = v
	}
}

func validateAndNormalizeConfig() error {
	if config.WSURL == "" {
		return fmt.Errorf("-ws must be set")
	}
	if config.StatsURL == "" {
		return fmt.Errorf("-stats-url must be set")
	}
	if config.Threshold <= 0 {
		return fmt.Errorf("-threshold must be > 0")
	}
	if config.Key == "" {
		return fmt.Errorf("-key must be set")
	}
	keys := newKeyMap(config.Key)
	for _, b := range []key.Binding{keys.Scale, keys.Up, keys.Down, keys.Quit} {
		for _, k := range b.Keys() {
			if k == keys.Tick.Keys()[0] {
				return fmt.Errorf("-key %q is already bound to %q", config.Key, b.Help().Desc)
			}
		}
	}
	if config.BurstK < 1 {
		return fmt.Errorf("-burst-k must be >= 1")
	}
	if config.BurstTick <= 0 {
		return fmt.Errorf("-burst-tick must be > 0")
	}
	if config.BurstWindow < config.BurstTick {
		return fmt.Errorf("-burst-window must be >= -burst-tick")
	}
	if config.BurstWindow%config.BurstTick != 0 {
		return fmt.Errorf("-burst-window must be a multiple of -burst-tick (got window=%s tick=%s)", config.BurstWindow, config.BurstTick)
	}
	if config.Pace < 0 {
		return fmt.Errorf("-pace must be >= 0")
	}
	config.ViewSplit = max(20, config.ViewSplit)
	config.ViewSplit = min(80, config.ViewSplit)
	if config.StatsWindow < 16 {
		config.StatsWindow = 16
	}
	return nil
}

// newLogger logs to path. The terminal belongs to the UI, so without a path
// nothing is logged.
func newLogger(path string) (*zap.Logger, error) {
	if path == "" {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/or-samples/tracking-web/internal/camera"
	"github.com/or-samples/tracking-web/internal/console"
	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/pipeline"
	"github.com/or-samples/tracking-web/internal/recognition"
	"github.com/or-samples/tracking-web/internal/recorder"
	"github.com/or-samples/tracking-web/internal/resultstore"
	"github.com/or-samples/tracking-web/internal/session"
	"github.com/or-samples/tracking-web/internal/webdisplay"
	"github.com/or-samples/tracking-web/internal/webrtc"
	"github.com/or-samples/tracking-web/pkg/types"
)

var (
	// Command-line flags
	port         = flag.Int("port", webdisplay.DefaultConfig().Port, "Web display port")
	confidence   = flag.Float64("confidence", recognition.DefaultConfig().ConfidenceThreshold, "Localization confidence threshold (0,1]")
	mechanism    = flag.String("mechanism", "cnn", "Localization mechanism (cnn, segmentation)")
	sourceKind   = flag.String("source", "synthetic", "Frame source (synthetic, playback)")
	playbackPath = flag.String("playback", "", "Recording to replay when -source=playback")
	loopPlayback = flag.Bool("loop", false, "Loop the playback recording")
	width        = flag.Int("width", camera.DefaultSyntheticConfig().Width, "Synthetic frame width")
	height       = flag.Int("height", camera.DefaultSyntheticConfig().Height, "Synthetic frame height")
	fps          = flag.Int("fps", camera.DefaultSyntheticConfig().FPS, "Capture rate (0 = as fast as possible)")
	latency      = flag.Duration("engine-latency", 0, "Extra recognition latency per frame")
	maxFailures  = flag.Int("max-failures", pipeline.DefaultConfig().MaxConsecutiveFailures, "Consecutive recognition failures before halting")
	recordPath   = flag.String("record-path", "./recordings", "Recording output path")
	resultsDB    = flag.String("results-db", "", "SQLite file for result history (empty disables)")
	metricsAddr  = flag.String("metrics", ":9090", "Metrics server address (empty disables)")
	pprofAddr    = flag.String("pprof", "", "pprof server address (empty disables)")
	stunServers  = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	maxClients   = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exit := camera.NewExitSignal()
	exit.WatchSignals(ctx)
	keyMode, restoreTerm := exit.WatchTerminal(os.Stdin)
	defer restoreTerm()

	source, err := newSource(exit)
	if err != nil {
		logger.Error("Main", "Invalid source: %v", err)
		return 1
	}
	colorInfo, depthInfo, err := source.Init()
	if err != nil {
		logger.Error("Main", "Camera init failed: %v", err)
		return 1
	}
	defer source.Stop()
	logger.Info("Main", "Camera: color %dx%d %s, depth %dx%d %s",
		colorInfo.Width, colorInfo.Height, colorInfo.Format,
		depthInfo.Width, depthInfo.Height, depthInfo.Format)

	engine, err := newEngine()
	if err != nil {
		logger.Error("Main", "Recognition configuration failed: %v", err)
		return 1
	}
	classNames := engine.ObjectClassNames()

	m := metrics.New()
	state := session.New()

	var store *resultstore.Store
	if *resultsDB != "" {
		store, err = resultstore.Open(*resultsDB)
		if err != nil {
			logger.Error("Main", "Result store: %v", err)
			return 1
		}
		defer store.Close()
		if err := store.SetSessionClasses(state.ID(), classNames); err != nil {
			logger.Warn("Main", "Failed to store class names: %v", err)
		}
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := m.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}
	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	rtc := webrtc.NewServer(splitList(*stunServers), *maxClients)
	rtc.SetMetrics(m)
	defer rtc.Close()

	rec := recorder.NewRecorder(*recordPath)
	defer rec.Close()

	webCfg := webdisplay.DefaultConfig()
	webCfg.State = state
	webCfg.Metrics = m
	webCfg.Recorder = rec
	webCfg.WebRTC = rtc
	if store != nil {
		webCfg.History = store
	}
	web := webdisplay.NewServer(webCfg)
	if err := web.Start(filepath.Base(os.Args[0]), *port); err != nil {
		logger.Error("Main", "Web display: %v", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := web.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Main", "Web display shutdown: %v", err)
		}
	}()
	web.PublishObjectClasses(classNames)

	cfg := pipeline.DefaultConfig()
	cfg.MaxConsecutiveFailures = *maxFailures
	sessCfg := pipeline.SessionConfig{
		Config:    cfg,
		Source:    source,
		Engine:    engine,
		State:     state,
		Sinks:     []pipeline.ResultSink{console.New(os.Stdout, classNames), web},
		FrameSink: web,
		Recorder:  rec,
		Metrics:   m,
	}
	if store != nil {
		sessCfg.History = store
	}
	sess := pipeline.NewSession(sessCfg)

	logger.Info("Main", "Session %s started", state.ID())
	if keyMode {
		fmt.Println("-------- Press Esc key to exit --------")
	} else {
		fmt.Println("-------- Press Esc or q then Enter (or Ctrl-C) to exit --------")
	}

	err = sess.Run(ctx)

	fmt.Println("-------- Stopping --------")

	var commitErr *pipeline.ModeCommitError
	switch {
	case errors.As(err, &commitErr):
		logger.Error("Main", "Tracking could not start: %v", commitErr)
		return 1
	case err != nil:
		logger.Error("Main", "Session failed: %v", err)
		return 1
	}

	if halted, reason := state.Halted(); halted {
		logger.Warn("Main", "Recognition was halted: %v", reason)
	}
	snap := m.Snapshot()
	logger.Info("Main", "Captured %d, processed %d, skipped %d, published %d",
		snap.FramesCaptured, snap.FramesProcessed, snap.FramesSkipped, snap.ResultsPublished)
	return 0
}

func newSource(exit *camera.ExitSignal) (camera.Source, error) {
	switch *sourceKind {
	case "synthetic":
		cfg := camera.DefaultSyntheticConfig()
		cfg.Width, cfg.Height, cfg.FPS = *width, *height, *fps
		cfg.Exit = exit
		return camera.NewSynthetic(cfg), nil
	case "playback":
		if *playbackPath == "" {
			return nil, fmt.Errorf("-playback is required with -source=playback")
		}
		// Recorded timing unless a rate was asked for.
		rate := 0
		if flagSet("fps") {
			rate = *fps
		}
		return camera.NewPlayback(camera.PlaybackConfig{
			Path: *playbackPath,
			Loop: *loopPlayback,
			FPS:  rate,
			Exit: exit,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source %q", *sourceKind)
	}
}

// newEngine applies the startup configuration: localizing mode, the chosen
// mechanism and confidence threshold.
func newEngine() (recognition.Engine, error) {
	mech, err := types.ParseMechanism(*mechanism)
	if err != nil {
		return nil, err
	}

	simCfg := recognition.DefaultSimulatorConfig()
	simCfg.Latency = *latency
	engine := recognition.NewSimulator(simCfg)

	cfg := recognition.DefaultConfig()
	cfg.Mechanism = mech
	cfg.ConfidenceThreshold = *confidence
	if err := engine.Configure(cfg); err != nil {
		return nil, err
	}
	return engine, nil
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/alarm"
	"github.com/dudu/eyebox/internal/camera"
	"github.com/dudu/eyebox/internal/classifier"
	"github.com/dudu/eyebox/internal/config"
	"github.com/dudu/eyebox/internal/detector"
	"github.com/dudu/eyebox/internal/inference"
	"github.com/dudu/eyebox/internal/metrics"
	"github.com/dudu/eyebox/internal/monitor"
	"github.com/dudu/eyebox/internal/pipeline"
	"github.com/dudu/eyebox/internal/session"
	"github.com/dudu/eyebox/internal/ui"
)

func init() {
	// Lock the main goroutine to the main OS thread.
	// This is required on macOS for OpenCV's highgui (window creation).
	runtime.LockOSThread()
}

const (
	previewWidth  = 960
	previewHeight = 720
)

type Flags struct {
	EnvFile     string
	CameraIndex int
	Preview     bool
	TargetFPS   int
	Session     string
	HTTPAddr    string
	LogLevel    string
}

func main() {
	flags, set := parseFlags()

	var cfg *config.Config
	if flags.EnvFile != "" {
		cfg = config.LoadConfig(flags.EnvFile)
	} else {
		cfg = config.LoadConfig()
	}
	applyFlags(cfg, flags, set)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	if err := cfg.SetupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func parseFlags() (Flags, map[string]bool) {
	flags := Flags{}

	flag.StringVar(&flags.EnvFile, "env", "", "Environment file to load (default .env)")
	flag.IntVar(&flags.CameraIndex, "camera", 0, "Camera device index")
	flag.IntVar(&flags.CameraIndex, "c", 0, "Camera device index (shorthand)")
	flag.BoolVar(&flags.Preview, "preview", true, "Show preview window")
	flag.BoolVar(&flags.Preview, "p", true, "Show preview window (shorthand)")
	flag.IntVar(&flags.TargetFPS, "fps", 30, "Target frames per second")
	flag.StringVar(&flags.Session, "session", "", "Session backend: sqlite, postgres, redis or memory")
	flag.StringVar(&flags.Session, "s", "", "Session backend (shorthand)")
	flag.StringVar(&flags.HTTPAddr, "http", "", "Monitor listen address, empty string disables it")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn or error")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "EyeBox - Driver microsleep detection\n\n")
		fmt.Fprintf(os.Stderr, "Usage: eyebox [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSettings not covered by flags are read from the environment or .env.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  eyebox\n")
		fmt.Fprintf(os.Stderr, "  eyebox --camera 1 --session memory\n")
		fmt.Fprintf(os.Stderr, "  eyebox --preview=false --http :8081\n")
	}

	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return flags, set
}

// applyFlags lets explicitly passed flags override the environment.
func applyFlags(cfg *config.Config, flags Flags, set map[string]bool) {
	if set["camera"] || set["c"] {
		cfg.CameraIndex = flags.CameraIndex
	}
	if set["preview"] || set["p"] {
		cfg.Preview = flags.Preview
	}
	if set["fps"] {
		cfg.CameraFPS = flags.TargetFPS
	}
	if set["session"] || set["s"] {
		cfg.SessionBackend = flags.Session
	}
	if set["http"] {
		cfg.HTTPAddr = flags.HTTPAddr
	}
	if set["log-level"] {
		cfg.LogLevel = flags.LogLevel
	}
}

func run(cfg *config.Config) error {
	log.Info("EyeBox starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Models
	if err := inference.Initialize(cfg.ONNXRuntimeLib); err != nil {
		return fmt.Errorf("failed to initialize inference: %w", err)
	}
	defer inference.Shutdown()

	log.Infof("Loading classifier %s...", cfg.ClassifierModel)
	model, err := classifier.NewONNXModel(classifier.ONNXConfig{
		ModelPath:  cfg.ClassifierModel,
		InputName:  cfg.ClassifierInput,
		OutputName: cfg.ClassifierOutput,
		Threads:    cfg.Threads,
		UseCoreML:  cfg.ClassifierCoreML,
	})
	if err != nil {
		return err
	}
	adapter, err := classifier.NewAdapter(model, cfg.CropSize, classifier.Layout(cfg.ClassifierLayout))
	if err != nil {
		model.Close()
		return fmt.Errorf("failed to create classifier: %w", err)
	}

	pigoConfig := detector.DefaultPigoConfig()
	pigoConfig.FaceCascadePath = cfg.FaceCascade
	pigoConfig.PupilCascadePath = cfg.PupilCascade
	det, err := detector.NewPigo(pigoConfig)
	if err != nil {
		adapter.Close()
		return fmt.Errorf("failed to create landmark detector: %w", err)
	}

	// Session store and reminder
	store, err := session.Open(ctx, session.Options{
		Backend:   cfg.SessionBackend,
		DSN:       cfg.SessionDSN,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		det.Close()
		adapter.Close()
		return fmt.Errorf("failed to open session store %s (%s): %w", cfg.SessionBackend, cfg.DSNForLog(), err)
	}
	defer store.Close()

	previous, err := store.Microsleep(ctx)
	if err != nil {
		log.Warnf("Could not read previous session: %v", err)
	}
	if previous {
		log.Warn("A microsleep was detected in the previous session. Make sure you are rested before driving on.")
	} else {
		log.Info("The previous session was safe. Stay alert and rest when you need to.")
	}

	player := alarm.NewPlayer(cfg.AlarmCommand, os.Stderr)
	defer player.Close()

	var window *ui.Window
	if cfg.Preview {
		window = ui.NewWindow("EyeBox", previewWidth, previewHeight, cfg.DisplayRotation, cfg.MirrorX)
		defer window.Close()
	}

	// Pipeline
	m := metrics.New()
	pipelineConfig := pipeline.Config{
		Options:         cfg.Options,
		DisplayRotation: cfg.DisplayRotation,
		MirrorX:         cfg.MirrorX,
		KeepImage:       window != nil,
	}
	if window != nil {
		pipelineConfig.View = window.View()
	}
	p, err := pipeline.New(pipelineConfig, det, adapter, m)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	notifier := pipeline.NewNotifier(player, store)
	defer notifier.Wait()

	worker := pipeline.NewWorker(p, pipeline.WorkerConfig{
		OverlayInterval:   cfg.OverlayInterval,
		PauseOnMicrosleep: cfg.PauseOnMicrosleep,
	}, notifier)

	// Camera
	log.Infof("Opening camera %d...", cfg.CameraIndex)
	cam, err := camera.NewCapture(cfg.CameraIndex, cfg.CameraFPS, cfg.CameraWidth, cfg.CameraHeight, cfg.CameraRotation)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer cam.Close()
	log.Infof("Capturing %dx%d, rotation %d", cam.Width(), cam.Height(), cam.Rotation())

	// Run
	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
		if n := cam.Outstanding(); n > 0 {
			log.Warnf("%d frames were never released", n)
		}
		log.Infof("Session stats: %s", m.Report())
	}()

	goRun("worker", worker.Run)
	goRun("camera", func(ctx context.Context) error {
		return cam.Run(ctx, worker.Submit)
	})
	if cfg.HTTPAddr != "" {
		srv := monitor.New(monitor.Config{
			Release:            cfg.LogLevel != "debug",
			PreviousMicrosleep: previous,
		}, worker, store, player, m)
		goRun("monitor", func(ctx context.Context) error {
			return srv.Run(ctx, cfg.HTTPAddr)
		})
	}

	log.Info("Running... Press 'r' in the preview to rotate the camera, 'q' or Ctrl+C to quit")

	if window == nil {
		select {
		case <-ctx.Done():
			log.Info("Shutting down...")
			return nil
		case err := <-errCh:
			return err
		}
	}

	snaps, unsubscribe := worker.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down...")
			return nil
		case err := <-errCh:
			return err
		case snap := <-snaps:
			if err := window.Show(snap); err != nil {
				log.Warnf("preview: %v", err)
			}
		default:
		}

		// WaitKey must be called to process window events on macOS
		key := window.WaitKey(10)
		switch key {
		case 'q', 27: // 'q' or ESC
			log.Info("Quitting...")
			return nil
		case 'r':
			rotation := (cam.Rotation() + 90) % 360
			if err := cam.SetRotation(rotation); err != nil {
				log.Warnf("%v", err)
			} else {
				log.Infof("Camera rotation %d", rotation)
			}
		}
	}
}

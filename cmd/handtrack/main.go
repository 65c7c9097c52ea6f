package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/xerrors"

	"github.com/ayusman/handtrack/internal/capture"
	"github.com/ayusman/handtrack/internal/config"
	"github.com/ayusman/handtrack/internal/lgr"
	"github.com/ayusman/handtrack/internal/pose"
	"github.com/ayusman/handtrack/internal/server"
	"github.com/ayusman/handtrack/internal/server/api"
	"github.com/ayusman/handtrack/internal/store"
	"github.com/ayusman/handtrack/internal/tracker"
	"github.com/ayusman/handtrack/internal/tray"
)

func main() {
	if err := run(); err != nil {
		lgr.Logger.Error("handtrack failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return xerrors.Errorf("loading configuration: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := lgr.Init(level)

	source := newSource(cfg)
	printBanner(cfg, source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The store backs both recording and the session API
	var st *store.Store
	if cfg.Record || cfg.HTTPAddr != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return xerrors.Errorf("creating data directory: %w", err)
		}
		st, err = store.New(cfg.DatabasePath())
		if err != nil {
			return xerrors.Errorf("opening store: %w", err)
		}
		defer st.Close()
	}

	paused := false
	if st != nil {
		paused, _ = st.Settings().GetBool(api.PausedSetting, false)
	}

	reporters := tracker.MultiReporter{tracker.NewLogReporter(logger)}

	if cfg.PositionLog != "" {
		positionLog := lgr.NewRotatingFile(cfg.PositionLog)
		defer positionLog.Close()
		reporters = append(reporters, tracker.NewJSONReporter(positionLog, logger))
	}

	var recorder *store.Recorder
	if cfg.Record {
		opts := cfg.PoseOptions()
		recorder, err = store.NewRecorder(st, &store.Session{
			Source:         source.Describe(),
			Backend:        cfg.Backend,
			Multiplier:     cfg.Multiplier,
			ScaleFactor:    opts.ScaleFactor,
			OutputStride:   opts.OutputStride,
			FlipHorizontal: opts.FlipHorizontal,
		}, store.DefaultBatchSize, logger)
		if err != nil {
			return xerrors.Errorf("starting session: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("finishing session", slog.Any("error", err))
			}
		}()
		reporters = append(reporters, recorder)
		logger.Info("recording session", "id", recorder.SessionID(), "db", cfg.DatabasePath())
	}

	var hub *server.HandHub
	var preview *server.Preview
	if cfg.HTTPAddr != "" {
		hub = server.NewHandHub(logger)
		preview = server.NewPreview(logger)
		reporters = append(reporters, hub)
	}

	var tr *tray.Tray
	if cfg.Tray {
		tr = tray.New(paused)
		reporters = append(reporters, tr)
	}

	trkCfg := tracker.Config{
		Scheduler:       tracker.NewFrameScheduler(cfg.FrameRate),
		Reporter:        reporters,
		Logger:          logger,
		MotionThreshold: cfg.MotionThreshold,
		TrailLength:     cfg.TrailLength,
	}
	if preview != nil {
		trkCfg.Preview = preview
	}
	trk := tracker.New(trkCfg)
	trk.SetPaused(paused)

	trackerErr := make(chan error, 1)
	go func() {
		err := trk.Run(ctx, tracker.Setup{
			Source:        source,
			LoadEstimator: func() (pose.Estimator, error) { return pose.Load(cfg.EstimatorConfig()) },
			Options:       cfg.PoseOptions(),
		})
		stop()
		trackerErr <- err
	}()

	serverErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		staticDir := cfg.StaticDir
		if staticDir == "" {
			staticDir = findWebDir()
		}
		if staticDir != "" {
			logger.Info("serving static files", "dir", staticDir)
		}

		srv := server.New(server.Config{
			StaticDir: staticDir,
			Store:     st,
			Tracker:   trk,
			Hub:       hub,
			Preview:   preview,
		})

		go func() {
			logger.Info("starting server", "addr", cfg.HTTPAddr)
			err := srv.ListenAndServe(ctx, cfg.HTTPAddr)
			if err != nil {
				stop()
			}
			serverErr <- err
		}()
	} else {
		serverErr <- nil
	}

	if tr != nil {
		setupTray(ctx, tr, trk, st, cfg, stop, logger)
		// Blocks on the main goroutine until quit
		tr.Run()
	}

	err = <-trackerErr
	if srvErr := <-serverErr; srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
		err = errors.Join(err, xerrors.Errorf("serving http: %w", srvErr))
	}
	if err != nil {
		return xerrors.Errorf("tracking stopped: %w", err)
	}
	return nil
}

func newSource(cfg *config.Config) capture.Camera {
	if cfg.SnapshotFile != "" {
		return capture.NewSnapshotSource(cfg.SnapshotFile)
	}
	if cfg.VideoFile != "" {
		return capture.NewFileSource(cfg.VideoFile)
	}
	return capture.NewCamera(cfg.CameraDevice, cfg.CaptureWidth, cfg.CaptureHeight)
}

func setupTray(ctx context.Context, tr *tray.Tray, trk *tracker.Tracker, st *store.Store, cfg *config.Config, stop context.CancelFunc, logger *slog.Logger) {
	trk.OnPauseChange(tr.SetPaused)
	tr.OnToggle(func(paused bool) {
		trk.SetPaused(paused)
		if st != nil {
			if err := st.Settings().SetBool(api.PausedSetting, paused); err != nil {
				logger.Warn("saving pause state", slog.Any("error", err))
			}
		}
	})
	tr.OnDashboard(func() {
		if cfg.HTTPAddr == "" {
			return
		}
		url := "http://" + dashboardHost(cfg.HTTPAddr)
		if err := openBrowser(url); err != nil {
			logger.Warn("opening dashboard", "url", url, slog.Any("error", err))
		}
	})
	tr.OnQuit(stop)

	go func() {
		<-ctx.Done()
		tr.Quit()
	}()
}

func dashboardHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func printBanner(cfg *config.Config, source capture.Camera) {
	color.New(color.FgCyan, color.Bold).Println("Handtrack - Webcam Wrist Tracker")

	label := color.New(color.Faint).SprintFunc()
	color.White("%s %s", label("source "), source.Describe())
	color.White("%s %s (multiplier %.2f)", label("model  "), cfg.Backend, cfg.Multiplier)
	color.White("%s scale %.2f, stride %d, flip %v", label("options"), cfg.ScaleFactor, cfg.OutputStride, cfg.FlipHorizontal)
	if cfg.HTTPAddr != "" {
		color.White("%s http://%s", label("http   "), dashboardHost(cfg.HTTPAddr))
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.handtrack/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	// Check relative paths from current working directory
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".handtrack", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Tutortoise/yolo-overlay-service/capture"
	"github.com/Tutortoise/yolo-overlay-service/config"
	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/logging"
	"github.com/Tutortoise/yolo-overlay-service/metrics"
	"github.com/Tutortoise/yolo-overlay-service/overlay"
	"github.com/Tutortoise/yolo-overlay-service/pipeline"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file loaded before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	base, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile, Debug: cfg.Debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer base.Sync()
	logger := base.Sugar()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("service stopped", "error", err)
		base.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	labels := detections.CocoLabels
	if cfg.LabelsPath != "" {
		loaded, err := detections.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return err
		}
		labels = loaded
	}

	libPath, modelPath, err := locateFiles(cfg.OrtLibDir, cfg.ModelPath)
	if err != nil {
		return err
	}

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize ONNX environment: %w", err)
	}
	defer ort.DestroyEnvironment()

	sessionCfg := detections.DefaultSessionConfig(modelPath)
	if got, want := sessionCfg.NumAttributes-detections.BoxAttributes, len(labels); got != want {
		logger.Warnw("label count does not match model classes", "classes", got, "labels", want)
	}

	m := metrics.New()

	pool, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		return detections.NewModelSession(sessionCfg)
	}, cfg.PoolSize, logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("create model session pool: %w", err)
	}
	defer pool.Destroy()
	pool.registerMetrics(m)

	var (
		source  pipeline.FrameSource
		mailbox *capture.Mailbox
	)
	if cfg.SourcePath != "" {
		fileSource, err := capture.NewFileSource(cfg.SourcePath)
		if err != nil {
			return err
		}
		source = fileSource
	} else {
		mailbox = capture.NewMailbox()
		defer mailbox.Close()
		source = mailbox
		m.RegisterGaugeFunc("frames_dropped_total", "Pushed frames replaced before processing", func() float64 {
			return float64(mailbox.Dropped())
		})
	}

	store := &snapshotStore{}
	driver, err := pipeline.New(
		pipeline.Config{
			InputWidth:       sessionCfg.InputWidth,
			InputHeight:      sessionCfg.InputHeight,
			Interval:         cfg.CycleInterval,
			InferenceTimeout: cfg.InferenceTimeout,
			DecodeWorkers:    cfg.DecodeWorkers,
			Labels:           labels,
		},
		source,
		newONNXEngine(pool),
		store,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(m),
		pipeline.WithSettings(settingsFromConfig(cfg)),
	)
	if err != nil {
		return err
	}

	state := &AppState{
		Driver:  driver,
		Store:   store,
		Mailbox: mailbox,
		Pool:    pool,
		Metrics: m,
		Labels:  labels,
		Logger:  logger.Named("http"),
	}

	srv := &http.Server{
		Handler:      state.routes(),
		Addr:         cfg.ListenAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("pipeline stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("starting server", "addr", srv.Addr, "model", modelPath, "pool_size", cfg.PoolSize)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		<-pipelineDone
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	<-pipelineDone
	return nil
}

func settingsFromConfig(cfg config.Config) pipeline.Settings {
	s := pipeline.DefaultSettings()
	s.ConfidenceThreshold = cfg.ConfidenceThreshold
	s.IOUThreshold = cfg.IOUThreshold
	s.ClassAware = cfg.ClassAwareNMS
	s.TargetLabel = cfg.TargetLabel
	s.BoxColor = cfg.BoxColor
	s.LineThickness = cfg.LineThickness
	s.MaxDetections = cfg.MaxDetections
	s.Captions = cfg.Captions
	if c, err := overlay.ParseColor(cfg.BoxColor); err == nil {
		s.BoxColor = overlay.FormatColor(c)
	}
	return s
}

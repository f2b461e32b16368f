package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"isp-orchestrator/calib"
	"isp-orchestrator/camera"
	"isp-orchestrator/config"
	"isp-orchestrator/emitter"
	"isp-orchestrator/metrics"
	"isp-orchestrator/virtualisp"
	"isp-orchestrator/web"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "ISP Orchestrator"
	AppVersion        = "1.0.0"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Components
	manager   *camera.Manager
	hw        *virtualisp.Hw
	webServer *web.Server
	emitter   *emitter.MQTTEmitter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		mode       = flag.String("mode", "", "Override the working mode (normal, hdr2, hdr3)")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("Per-frame ISP control loop daemon: routes statistics to the 3A analyzer and applies its results")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// Create logger
	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting ISP orchestrator",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *mode != "" {
		cfg.Sensor.WorkingMode = *mode
		if err := cfg.Validate(); err != nil {
			logger.Fatal("Invalid working mode override", zap.Error(err))
		}
	}

	logger.Info("Configuration loaded",
		zap.String("sensor", cfg.Sensor.Name),
		zap.String("working_mode", cfg.Sensor.WorkingMode),
		zap.Int("web_port", cfg.Server.WebPort),
		zap.Bool("mqtt", cfg.MQTT.Enabled))

	// Create application
	app := NewApplication(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(app.config.Timeouts.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start wires the manager to its backend and sinks and starts streaming
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("Starting application components")
	metrics.RegisterMetrics()

	// Bind the manager to the virtual backend
	if err := a.initializeManager(); err != nil {
		return fmt.Errorf("failed to initialize ISP manager: %w", err)
	}

	// Start web server
	if a.config.Server.Enabled {
		a.webServer = web.NewServer(a.config, a.manager, a.logger)
		a.manager.AddEventSink(a.webServer.Hub())
		if err := a.webServer.Start(); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
	}

	// Connect MQTT emitter
	if a.config.MQTT.Enabled {
		a.initializeEmitter(ctx)
	}

	// Start streaming
	if err := a.startPipeline(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	a.logger.Info("Application started successfully",
		zap.String("state", a.manager.State().String()),
		zap.String("mode", a.manager.WorkingMode().String()))
	return nil
}

// initializeManager builds the manager and binds the virtual backend
func (a *Application) initializeManager() error {
	c := calib.Default()
	if path := a.config.Calibration.Path; path != "" {
		var err error
		if c, err = calib.Load(path); err != nil {
			return err
		}
		a.logger.Info("Calibration loaded", zap.String("path", path), zap.String("name", c.Name))
	}

	a.manager = camera.NewManager(a.config, a.logger)

	interval := time.Duration(a.config.Virtual.FrameIntervalMs) * time.Millisecond
	a.hw = virtualisp.NewHw(interval, a.config.Virtual.FailSwitch, a.logger)
	a.hw.SetFrameSink(a.manager)

	for _, err := range []error{
		a.manager.SetSensorName(a.config.Sensor.Name),
		a.manager.SetAnalyzer(virtualisp.NewAnalyzer(a.logger)),
		a.manager.SetLumaAnalyzer(virtualisp.NewLuma(a.logger)),
		a.manager.SetHwApply(a.hw),
		a.manager.SetCalibration(c),
	} {
		if err != nil {
			return err
		}
	}
	a.manager.SetHwInfo(camera.HwInfo{
		HasFlash: a.config.Sensor.HasFlash,
		HasIRCut: a.config.Sensor.HasIRCut,
		HasLens:  a.config.Sensor.HasLens,
	})
	return nil
}

// initializeEmitter connects the MQTT emitter. A broker that cannot be
// reached leaves the daemon running without it.
func (a *Application) initializeEmitter(ctx context.Context) {
	timeout := time.Duration(a.config.Timeouts.MQTTConnectTimeout) * time.Second
	e := emitter.NewMQTTEmitter(a.config.MQTT, timeout, a.config.Server.EventBuffer, a.logger)
	if err := e.Connect(ctx); err != nil {
		a.logger.Warn("MQTT emitter disabled", zap.Error(err))
		return
	}
	a.emitter = e
	a.manager.AddEventSink(e)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		e.Run(a.ctx)
	}()
}

// startPipeline runs Init, Prepare and Start in the configured mode
func (a *Application) startPipeline() error {
	mode, err := camera.ParseWorkingMode(a.config.Sensor.WorkingMode)
	if err != nil {
		return err
	}
	if err := a.manager.Init(); err != nil {
		return err
	}
	if err := a.manager.Prepare(a.config.Sensor.Width, a.config.Sensor.Height, mode); err != nil {
		return err
	}
	return a.manager.Start()
}

// Stop gracefully stops all application components
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	// Stop web server
	if a.webServer != nil {
		if err := a.webServer.Stop(ctx); err != nil {
			a.logger.Error("Error stopping web server", zap.Error(err))
		}
	}

	// Stop and tear down the pipeline
	var stopErr error
	if a.manager != nil {
		if err := a.manager.Stop(false); err != nil {
			a.logger.Error("Error stopping pipeline", zap.Error(err))
			stopErr = err
		}
		if err := a.manager.DeInit(); err != nil {
			a.logger.Error("Error tearing down pipeline", zap.Error(err))
			stopErr = err
		}
	}

	// Cancel context and disconnect emitter
	a.cancel()
	if a.emitter != nil {
		a.emitter.Disconnect()
	}

	// Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All components stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	return stopErr
}

// createLogger creates a structured logger
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("isp-orchestrator-%s.log", ts))

	// keep the last 20 log files
	files, _ := filepath.Glob(filepath.Join(logDir, "isp-orchestrator-*.log"))
	if len(files) > 20 {
		sort.Strings(files)
		for _, f := range files[:len(files)-20] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}

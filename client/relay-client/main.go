package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/capture"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/db"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/client"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/config"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/connectivity"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/health"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/location"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/status"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/uploading"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", config.DefaultConfigPath, "Path to the YAML configuration file")
	testMode := flag.Bool("test", false, "Run in test mode with synthetic camera and GPS, a local object store and a mock API")

	// Config override flags
	deviceID := flag.String("device-id", "", "Device ID (overrides config)")
	missionID := flag.String("mission-id", "", "Mission ID (overrides config)")
	apiEndpoint := flag.String("api-endpoint", "", "API endpoint (overrides config)")
	bucket := flag.String("bucket", "", "Storage bucket (overrides config)")
	storageBackend := flag.String("storage-backend", "", "Storage backend: gcs, http or local (overrides config)")
	cameraDevice := flag.String("camera-device", "", "Camera device index or path (overrides config)")
	captureInterval := flag.Duration("capture-interval", 0, "Capture interval, e.g. 10s (overrides config)")
	workers := flag.Int("workers", 0, "Number of upload workers (overrides config)")
	maxRetries := flag.Int("max-retries", -1, "Upload retries before quarantine (overrides config)")
	statusAddr := flag.String("status-addr", "", "Status server listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply CLI overrides if provided
	cfg.Override(config.ConfigOverrides{
		DeviceID:        deviceID,
		MissionID:       missionID,
		APIEndpoint:     apiEndpoint,
		Bucket:          bucket,
		StorageBackend:  storageBackend,
		CameraDevice:    cameraDevice,
		CaptureInterval: captureInterval,
		Workers:         workers,
		MaxRetries:      maxRetries,
		StatusAddr:      statusAddr,
		LogLevel:        logLevel,
	})

	if *testMode {
		applyTestDefaults(cfg)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.CreateLoggerWithOptions(logging.Options{
		Level:   logging.LogLevel(cfg.Logging.Level),
		Dir:     cfg.Logging.Dir,
		Name:    "relay-client",
		Console: cfg.Logging.Console,
	})

	// Log final configuration (without sensitive data)
	logger.Info("Configuration loaded",
		"device_id", cfg.Device.ID,
		"mission_id", cfg.Device.MissionID,
		"storage_backend", cfg.Storage.Backend,
		"api_endpoint", cfg.API.Endpoint,
		"capture_interval", cfg.Camera.CaptureInterval,
		"workers", cfg.Upload.Workers,
		"max_retries", cfg.Upload.MaxRetries,
		"test_mode", *testMode)

	relay, err := buildRelay(logger, cfg, *configPath, *testMode)
	if err != nil {
		logger.Error("Failed to build relay", "error", err)
		log.Fatalf("Failed to build relay: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Network.ConnectTimeout*2+cfg.ShutdownTimeout)
	err = relay.Start(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(logger, cfg.Status.ListenAddr, cfg.Status.Token, relay, relay.Quarantine(), relay.Connectivity())
		if err := statusServer.Start(); err != nil {
			logger.Error("Status server unavailable", "addr", cfg.Status.ListenAddr, "error", err)
			statusServer = nil
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	// a second signal during shutdown is absorbed by the buffered channel; Stop is idempotent
	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status server shutdown", "error", err)
		}
		cancel()
	}
	relay.Stop()

	logger.Info("Relay client stopped")
}

// applyTestDefaults fills in what test mode does not need from the operator
func applyTestDefaults(cfg *config.Config) {
	if cfg.Device.ID == "" {
		cfg.Device.ID = "test-device"
	}
	if cfg.Device.MissionID == "" {
		cfg.Device.MissionID = "test-mission"
	}
	cfg.Storage.Backend = "local"
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./mock-uploads"
	}
}

// buildRelay wires every component from the configuration. Real or mock
// implementations are chosen here, once.
func buildRelay(logger logging.Logger, cfg *config.Config, configPath string, testMode bool) (*RelayClient, error) {
	var closers []io.Closer

	tracker := filemanagement.NewLocalFileTracker(logger, cfg.Camera.StoragePath, capture.FilePattern)

	settingsProvider, err := config.NewCachingSettingsProvider(logger, func(ctx context.Context) (capture.Settings, error) {
		fresh, err := config.LoadConfig(configPath)
		if err != nil {
			return capture.Settings{}, err
		}
		return capture.SettingsFromConfig(fresh), nil
	}, cfg.SettingsRefresh)
	if err != nil {
		return nil, err
	}

	var postProcessor capture.PostProcessor = capture.NopPostProcessor{}
	if cfg.Camera.PostProcess.Enabled {
		postProcessor = capture.NewFfmpegPostProcessor(logger, capture.NewFFmpegEncoderProvider(logger))
	}

	openCapture := func() (capture.CaptureSource, error) {
		return capture.NewCaptureSource(logger, capture.SourceOptions{
			Dir:            cfg.Camera.StoragePath,
			Device:         cfg.Camera.Device,
			MaxLocalImages: cfg.Camera.MaxLocalImages,
			SyntheticSeed:  cfg.Camera.SyntheticSeed,
			ForceSynthetic: testMode,
		}, settingsProvider, tracker, postProcessor)
	}

	connManager := buildConnectivity(logger, cfg, testMode)

	var openLocation func() (LocationService, error)
	if cfg.GPS.Enabled || testMode {
		openLocation = func() (LocationService, error) {
			receiver, err := location.OpenReceiver(logger, location.ReceiverOptions{
				Device:         cfg.GPS.Device,
				BaudRate:       cfg.GPS.BaudRate,
				FallbackToMock: cfg.GPS.FallbackToMock,
				ForceSynthetic: testMode,
				MockLatitude:   cfg.GPS.MockLatitude,
				MockLongitude:  cfg.GPS.MockLongitude,
				MockInterval:   cfg.GPS.MockInterval,
				Seed:           cfg.Camera.SyntheticSeed,
			})
			if err != nil {
				return nil, err
			}
			return location.NewProvider(logger, receiver, cfg.GPS.MinSatellites), nil
		}
	}

	monitor := health.NewMonitor(logger, health.NewSystemSampler(cfg.Camera.StoragePath, cfg.Monitoring.SysfsRoot), health.Thresholds{
		Temperature: cfg.Monitoring.TemperatureLimit,
		Memory:      cfg.Monitoring.MemoryLimit,
		Disk:        cfg.Monitoring.DiskLimit,
		CPU:         cfg.Monitoring.CPULimit,
	})
	var policy health.Policy = health.PassivePolicy{}
	if cfg.Monitoring.ThrottleOnCritical {
		policy = health.DefaultPolicy{}
	}

	store, err := buildObjectStore(logger, cfg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store)

	var api client.APIClient
	if testMode {
		api = client.NewMockAPIClient(logger)
	} else {
		api = client.NewAPIClient(cfg.API.Endpoint, cfg.API.UserAgent, cfg.API.Token, cfg.API.Timeout)
	}

	var quarantineRepo uploading.QuarantineRepository
	if cfg.Upload.DatabasePath != "" {
		database, err := db.Open(cfg.Upload.DatabasePath)
		if err != nil {
			closeAll(logger, closers)
			return nil, err
		}
		closers = append(closers, database)

		repo, err := uploading.NewSQLiteQuarantineRepository(database)
		if err != nil {
			closeAll(logger, closers)
			return nil, err
		}
		quarantineRepo = repo

		ledger, err := filemanagement.NewSQLiteOutcomeLedger(database)
		if err != nil {
			closeAll(logger, closers)
			return nil, err
		}
		tracker.UseLedger(ledger)
	} else if !cfg.Upload.CleanupAfterUpload && cfg.Camera.RecoverOnStartup {
		logger.Warn("No upload database configured, kept uploads will be sent again after a restart")
	}

	relay := NewRelayClient(logger, RelayComponents{
		OpenCapture:    openCapture,
		Connectivity:   connManager,
		OpenLocation:   openLocation,
		Monitor:        monitor,
		Policy:         policy,
		Tracker:        tracker,
		Store:          store,
		API:            api,
		QuarantineRepo: quarantineRepo,
		Closers:        closers,
	}, RelayOptions{
		Identity:         uploading.Identity{DeviceID: cfg.Device.ID, MissionID: cfg.Device.MissionID},
		CaptureInterval:  cfg.Camera.CaptureInterval,
		CheckInterval:    cfg.Network.CheckInterval,
		HealthInterval:   cfg.Monitoring.Interval,
		Workers:          cfg.Upload.Workers,
		QuarantineMax:    cfg.Upload.QuarantineMax,
		RecoverOnStartup: cfg.Camera.RecoverOnStartup,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		Worker: uploading.WorkerOptions{
			KeyPrefix:      cfg.Storage.KeyPrefix,
			MaxRetries:     cfg.Upload.MaxRetries,
			StorageTimeout: cfg.Upload.StorageTimeout,
			APITimeout:     cfg.API.Timeout,
			Cleanup:        cfg.Upload.CleanupAfterUpload,
			PollInterval:   cfg.Upload.PollInterval,
		},
	})

	return relay, nil
}

func buildConnectivity(logger logging.Logger, cfg *config.Config, testMode bool) *connectivity.Manager {
	opts := connectivity.Options{
		Primary:        cfg.PrimaryInterface(),
		Fallback:       cfg.FallbackInterface(),
		ConnectTimeout: cfg.Network.ConnectTimeout,
		ProbeTimeout:   cfg.Network.ProbeTimeout,
		Staleness:      cfg.Network.StalenessThreshold,
	}

	if testMode {
		logger.Info("Running in TEST MODE with a static network")
		return connectivity.NewManager(logger, connectivity.NewStaticDriver(logger), connectivity.StaticProber{}, opts)
	}

	commands := make(map[models.InterfaceType]connectivity.InterfaceCommands)
	for name, ic := range cfg.Network.Interfaces {
		it, err := models.ParseInterfaceType(name)
		if err != nil || it == models.InterfaceNone {
			logger.Warn("Ignoring unknown network interface in config", "name", name)
			continue
		}
		commands[it] = connectivity.InterfaceCommands{
			Connect:      ic.ConnectCommand,
			Disconnect:   ic.DisconnectCommand,
			NamePrefixes: ic.NamePrefixes,
		}
	}

	driver := connectivity.NewCommandDriver(logger, commands)
	prober := connectivity.NewHTTPProber(logger, cfg.Network.ProbeEndpoints, cfg.API.UserAgent)
	return connectivity.NewManager(logger, driver, prober, opts)
}

func buildObjectStore(logger logging.Logger, cfg *config.Config) (client.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return client.NewGCSObjectStore(ctx, logger, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
	case "http":
		return client.NewHTTPObjectStore(cfg.Storage.BaseURL, cfg.API.Token, cfg.Upload.StorageTimeout), nil
	case "local":
		return client.NewLocalObjectStore(logger, filepath.Clean(cfg.Storage.LocalDir))
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func closeAll(logger logging.Logger, closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("Failed to close component", "error", err)
		}
	}
}

package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"vitals/access"
	"vitals/alerting"
	"vitals/api"
	"vitals/config"
	"vitals/ingestion"
	"vitals/query"
	"vitals/service"
	"vitals/storage"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.json", "Path to configuration file")
	installService := flag.Bool("install", false, "Install as a Windows service")
	uninstallService := flag.Bool("uninstall", false, "Uninstall the Windows service")
	startService := flag.Bool("start", false, "Start the Windows service")
	stopService := flag.Bool("stop", false, "Stop the Windows service")
	flag.Parse()

	// Handle service management commands
	if *installService {
		if err := service.RunServiceCommand(service.Install); err != nil {
			stdlog.Fatalf("Failed to install service: %v", err)
		}
		return
	}
	if *uninstallService {
		if err := service.RunServiceCommand(service.Uninstall); err != nil {
			stdlog.Fatalf("Failed to uninstall service: %v", err)
		}
		return
	}
	if *startService {
		if err := service.RunServiceCommand(service.Start); err != nil {
			stdlog.Fatalf("Failed to start service: %v", err)
		}
		return
	}
	if *stopService {
		if err := service.RunServiceCommand(service.Stop); err != nil {
			stdlog.Fatalf("Failed to stop service: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := setupLogger(cfg.Service.LogLevel)
	level.Info(logger).Log("msg", "starting", "service", cfg.Service.Name)

	// Initialize storage
	storageManager, err := storage.NewManager(cfg.Storage, log.With(logger, "component", "storage"))
	if err != nil {
		stdlog.Fatalf("Failed to initialize storage: %v", err)
	}
	defer storageManager.Close()

	// Build the organization directory and query engine
	directory := access.NewDirectory(cfg.Organizations)
	engine, err := query.NewEngine(storageManager, cfg.Query, log.With(logger, "component", "query"))
	if err != nil {
		stdlog.Fatalf("Failed to initialize query engine: %v", err)
	}

	// Initialize ingestion
	ingestionManager, err := ingestion.NewManager(cfg.Ingestion, storageManager, log.With(logger, "component", "ingestion"))
	if err != nil {
		stdlog.Fatalf("Failed to initialize ingestion: %v", err)
	}
	defer ingestionManager.Close()

	// Initialize the query API
	apiManager, err := api.NewManager(cfg.API, directory, engine, log.With(logger, "component", "api"))
	if err != nil {
		stdlog.Fatalf("Failed to initialize API: %v", err)
	}
	defer apiManager.Close()

	// Initialize alerting
	alertingManager, err := alerting.NewManager(cfg.Alerts, directory, engine, log.With(logger, "component", "alerting"))
	if err != nil {
		stdlog.Fatalf("Failed to initialize alerting: %v", err)
	}
	defer func() {
		if err := alertingManager.Stop(); err != nil {
			level.Error(logger).Log("msg", "error stopping alerting manager", "err", err)
		}
	}()

	// Start as Windows Service if installed as a service
	if service.IsWindowsService() {
		err = service.RunAsService(cfg, storageManager, ingestionManager, apiManager, alertingManager)
		if err != nil {
			stdlog.Fatalf("Failed to run as service: %v", err)
		}
		return
	}

	// Start all components
	if err := ingestionManager.Start(); err != nil {
		stdlog.Fatalf("Failed to start ingestion: %v", err)
	}

	if err := apiManager.Start(); err != nil {
		stdlog.Fatalf("Failed to start API: %v", err)
	}

	if err := alertingManager.Start(); err != nil {
		stdlog.Fatalf("Failed to start alerting: %v", err)
	}

	// Setup signal handling for graceful shutdown
	setupSignalHandling(logger, storageManager, ingestionManager, apiManager, alertingManager)

	fmt.Printf("%s is running. Press Ctrl+C to stop.\n", cfg.Service.Name)
	select {}
}

func setupLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	var opt level.Option
	switch logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func setupSignalHandling(
	logger log.Logger,
	storageManager *storage.Manager,
	ingestionManager *ingestion.Manager,
	apiManager *api.Manager,
	alertingManager *alerting.Manager,
) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig.String())

		// Shutdown components in reverse order
		alertingManager.Stop()
		apiManager.Stop()
		ingestionManager.Stop()
		storageManager.Close()

		level.Info(logger).Log("msg", "shutdown complete")
		os.Exit(0)
	}()
}

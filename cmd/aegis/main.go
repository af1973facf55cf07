package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	aegis "github.com/aegis-labs/aegis/pkg/aegis/v1"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"

	"github.com/aegis-labs/aegis/internal/config"
	"github.com/aegis-labs/aegis/internal/events"
	"github.com/aegis-labs/aegis/internal/logger"
	"github.com/aegis-labs/aegis/internal/metrics"
	"github.com/aegis-labs/aegis/internal/safety"
	"github.com/aegis-labs/aegis/internal/tracing"
)

const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsageError      = 2
	ExitSigIntBase      = 128
	ExitSigInt          = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm         = ExitSigIntBase + int(syscall.SIGTERM)
	DefaultLogLevel     = "info"
	DefaultLogFmt       = "text"
	DefaultEventBusSize = 256
	DefaultAuditDir     = "aegis_output"
	auditFileName       = "safety_audit.jsonl"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "validate":
			runValidateCommand(os.Args[2:])
			return
		case "audit":
			runAuditCommand(os.Args[2:])
			return
		}
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(ExitSuccess)
	}
	exitCode := runMonitorCommand(os.Args[1:])
	os.Exit(exitCode)
}

func printVersion() {
	fmt.Printf("aegis version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) {
	validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
	limitsPath := validateFlags.String("limits", "", "Path to the safety limits YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -limits <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates the structure and schema compatibility of an Aegis limits file.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing validate flags: %v\n", err)
		os.Exit(ExitUsageError)
	}

	if *limitsPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -limits flag is required for validation")
		validateFlags.Usage()
		os.Exit(ExitUsageError)
	}

	log := logger.NewLogger(*logLevel, "text", os.Stderr)
	log.Infof("Validating limits file: %s", *limitsPath)

	_, err := config.LoadLimitsFromFile(*limitsPath)
	if err != nil {
		var validationErr *aegiserrors.ValidationError
		var configErr *aegiserrors.ConfigError
		if errors.As(err, &validationErr) {
			log.Errorf("Limits validation failed:\n%s", validationErr.Error())
		} else if errors.As(err, &configErr) {
			log.Errorf("Limits configuration error:\n%s", configErr.Error())
		} else {
			log.Errorf("Failed to load or validate limits file: %v", err)
		}
		os.Exit(ExitFailure)
	}

	log.Infof("Limits file validation successful: %s", *limitsPath)
	os.Exit(ExitSuccess)
}

func runAuditCommand(args []string) {
	auditFlags := flag.NewFlagSet("audit", flag.ExitOnError)
	auditDir := auditFlags.String("audit-dir", DefaultAuditDir, "Directory containing the audit log")
	tail := auditFlags.Int("tail", 20, "Number of most recent events to print (0 for all)")

	auditFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s audit [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Prints recent events from the safety audit log.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		auditFlags.PrintDefaults()
	}

	if err := auditFlags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing audit flags: %v\n", err)
		os.Exit(ExitUsageError)
	}

	path := filepath.Join(*auditDir, auditFileName)
	recorded, err := safety.ReadAuditLog(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading audit log '%s': %v\n", path, err)
		os.Exit(ExitFailure)
	}
	if *tail > 0 && len(recorded) > *tail {
		recorded = recorded[len(recorded)-*tail:]
	}
	for _, event := range recorded {
		line, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}
	os.Exit(ExitSuccess)
}

func runMonitorCommand(args []string) int {
	monitorFlags := flag.NewFlagSet("aegis", flag.ExitOnError)
	limitsPath := monitorFlags.String("limits", "", "Path to the safety limits YAML file (optional, defaults apply)")
	auditDir := monitorFlags.String("audit-dir", DefaultAuditDir, "Directory for the append-only audit log")
	logLevel := monitorFlags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	logFormat := monitorFlags.String("log-format", DefaultLogFmt, "Log format (text, json)")
	interval := monitorFlags.Duration("interval", 5*time.Second, "Resource sampling interval")
	versionFlag := monitorFlags.Bool("version", false, "Print version information and exit")

	monitorFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs the Aegis safety control-plane in standalone monitoring mode.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		monitorFlags.PrintDefaults()
	}

	if err := monitorFlags.Parse(args); err != nil {
		return ExitUsageError
	}

	if *versionFlag {
		printVersion()
		return ExitSuccess
	}
	if *logFormat != "text" && *logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}
	if *interval <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: -interval must be positive, defaulting to 5s\n")
		*interval = 5 * time.Second
	}

	var logWriter io.Writer = os.Stderr
	log := logger.NewLogger(*logLevel, *logFormat, logWriter)
	log = log.With("aegis_version", version)

	log.Infof("Aegis safety control-plane v%s starting...", version)
	log.Debugf("Log level: %s", *logLevel)
	log.Debugf("Log format: %s", *logFormat)
	log.Debugf("Sampling interval: %s", *interval)

	var limits *config.SafetyLimits
	if *limitsPath != "" {
		loaded, err := config.LoadLimitsFromFile(*limitsPath)
		if err != nil {
			log.Errorf("Failed to load limits file '%s': %v", *limitsPath, err)
			return ExitFailure
		}
		limits = loaded
		log.Infof("Loaded safety limits from %s", *limitsPath)
	} else {
		limits = config.DefaultLimits()
		log.Infof("No limits file provided, using built-in defaults")
	}

	eventBus := events.NewChannelEventBus(DefaultEventBusSize, log)
	defer eventBus.Close()
	metricsProvider := metrics.NewPrometheusRegistryProvider()
	tracerProvider, err := tracing.NewProviderFromEnv(context.Background())
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider, _ = tracing.NewNoOpProvider()
	}

	managerOpts := []aegis.Option{
		aegis.WithLimits(limits),
		aegis.WithEventBus(eventBus),
		aegis.WithMetricsRegistryProvider(metricsProvider),
		aegis.WithTracerProvider(tracerProvider),
		aegis.WithAuditLogPath(filepath.Join(*auditDir, auditFileName)),
		aegis.WithMonitorInterval(*interval),
	}

	manager, err := safety.NewManager(log, managerOpts...)
	if err != nil {
		log.Errorf("Failed to create safety manager: %v", err)
		return ExitFailure
	}
	defer func() {
		if closeErr := manager.Close(); closeErr != nil {
			log.Warnf("Error during manager shutdown: %v", closeErr)
		}
	}()

	shutdown := safety.NewEmergencyShutdown(manager)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	listener := events.NewMetricsEventListener(eventBus,
		manager.GetBusViolationCounter(), manager.GetBusEmergencyCounter(),
		manager.GetBusPlanStopsCounter(), log)
	go listener.Start(runCtx)

	if err := manager.StartMonitoring(); err != nil {
		log.Errorf("Failed to start resource monitoring: %v", err)
		return ExitFailure
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Triggering emergency shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			shutdown.Trigger(fmt.Sprintf("received signal %v", sig))
			cancelRun()
		case <-runCtx.Done():
			log.Debugf("Signal handler exiting because run context is done.")
		}
	}()

	log.Infof("Monitoring started. Press Ctrl-C to stop.")
	<-runCtx.Done()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := tracerProvider.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnf("Error shutting down tracer provider: %v", shutdownErr)
	}

	printSummary(log, manager.SafetySummary())

	sigMu.Lock()
	finalSignal := receivedSignal
	sigMu.Unlock()
	return determineExitCode(finalSignal)
}

func printSummary(log aegislog.Logger, summary *aegis.SafetySummary) {
	if summary == nil {
		return
	}
	log.Infof("Final status: %d total event(s), %d active plan(s), %d sample(s) collected",
		summary.TotalEvents, summary.ActivePlans, summary.Resources.SampleCount)
	for kind, count := range summary.RecentViolations {
		log.Infof("  recent %s: %d", kind, count)
	}
}

func determineExitCode(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return ExitSigInt
	case syscall.SIGTERM:
		return ExitSigTerm
	case nil:
		return ExitSuccess
	default:
		return ExitFailure
	}
}

// Samuel-bridge is the REST sidecar for Samuel.
//
// It serves plain HTTP health checks (/ping, /health) for monitoring
// systems that do not speak MCP, and optionally publishes Samuel's
// health status to Home Assistant over MQTT discovery. Configuration
// is shared with the samuel command.
//
// Usage:
//
//	samuel-bridge                 Start the bridge
//	samuel-bridge -config <path>  Start with an explicit config file
//	samuel-bridge version         Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"samuel/internal/bridge"
	"samuel/internal/buildinfo"
	"samuel/internal/config"
	"samuel/internal/connwatch"
	"samuel/internal/health"
	"samuel/internal/homeassistant"
	"samuel/internal/mqtt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the samuel-bridge command. OS-level
// dependencies are injected so the lifecycle can be driven from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return runServe(ctx, stdout, configPath)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Samuel-bridge - REST health sidecar for Samuel")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: samuel-bridge [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// reporterFunc adapts a closure to bridge.ReportGenerator.
type reporterFunc func(ctx context.Context) (*health.Report, error)

func (f reporterFunc) Generate(ctx context.Context) (*health.Report, error) {
	return f(ctx)
}

// runServe starts the bridge: health store, HA client with connection
// watching, the HTTP listener, and the optional MQTT publisher. Blocks
// until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Samuel bridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		// Already validated by config.Validate().
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", path,
		"port", cfg.Bridge.Port,
		"ha_url", cfg.HomeAssistant.URL,
		"mqtt", cfg.MQTT.Enabled,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	store, err := health.NewStore(filepath.Join(cfg.DataDir, "health.db"))
	if err != nil {
		return fmt.Errorf("open health database: %w", err)
	}
	defer store.Close()

	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	reporter := health.NewReporter(ha, store, cfg.DataDir, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HA reachability status for the /health response.
	var status bridge.StatusSource
	if cfg.HomeAssistant.Configured() {
		watcher := connwatch.Watch(ctx, connwatch.Config{
			Name:   "homeassistant",
			Probe:  func(pCtx context.Context) error { return ha.Ping(pCtx) },
			Logger: logger,
		})
		defer watcher.Stop()
		status = watcher
	} else {
		logger.Warn("Home Assistant not configured - /health will report it unreachable")
	}

	// Optional MQTT publisher: Samuel shows up in HA as a device with
	// health sensors. Fresh /health runs publish immediately so the
	// sensors don't lag behind by a tick.
	var bridgeReporter bridge.ReportGenerator = reporter
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance ID: %w", err)
		}

		pub := mqtt.New(cfg.MQTT, instanceID, store, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()

		bridgeReporter = reporterFunc(func(rCtx context.Context) (*health.Report, error) {
			report, err := reporter.Generate(rCtx)
			if err == nil {
				pub.PublishNow(rCtx)
			}
			return report, err
		})
	}

	srv := bridge.New(bridgeReporter, status, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Bridge.Address, cfg.Bridge.Port)
	return srv.Run(ctx, addr)
}

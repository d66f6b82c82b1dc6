// Samuel is a read-only Home Assistant bridge over MCP.
//
// It exposes the HA configuration repository (YAML files, packages,
// automations, scripts), live entity state, project documentation, and
// a health diagnostic as callable tools for MCP clients. Configuration
// is loaded from an optional YAML file plus environment variables (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	samuel serve             Start the MCP server
//	samuel init [dir]        Initialize a working directory with defaults
//	samuel report            Generate a health report and print it
//	samuel version           Print version and build information
//	samuel -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"samuel/internal/buildinfo"
	"samuel/internal/config"
	"samuel/internal/configrepo"
	"samuel/internal/connwatch"
	"samuel/internal/docs"
	"samuel/internal/health"
	"samuel/internal/homeassistant"
	"samuel/internal/mcpserver"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the samuel command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is small enough that manual parsing is
// clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var transport string // "http" (default) or "stdio"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-transport" && i+1 < len(args):
			transport = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-transport="):
			transport = strings.TrimPrefix(args[i], "-transport=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	if transport == "" {
		transport = "http"
	}
	if transport != "http" && transport != "stdio" {
		return fmt.Errorf("unknown transport: %q (expected http or stdio)", transport)
	}

	switch command {
	case "serve":
		return runServe(ctx, stderr, configPath, transport)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "report":
		return runReport(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Samuel - Home Assistant MCP Bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: samuel [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the MCP server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  report       Generate a health report and print it")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>      Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -transport <mode>   MCP transport: http (default) or stdio")
	fmt.Fprintln(w, "  -o, --output fmt    Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/samuel/config.yaml, /etc/samuel/config.yaml")
	return nil
}

// newLogger builds a text slog logger writing to w at the given level.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig discovers and loads configuration, then validates it.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// runReport handles "samuel report": a one-shot health report, printed
// to stdout and persisted alongside the run history in the data dir.
// Logs go to stderr so the report itself stays pipeable.
func runReport(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

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

	report, err := reporter.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate health report: %w", err)
	}

	fmt.Fprintln(stdout, report.Markdown)
	return nil
}

// runServe handles "samuel serve". It loads config, opens the health
// database, connects to Home Assistant (REST plus WebSocket for live
// state changes), starts the MCP server, and blocks until a shutdown
// signal arrives. Logs go to stderr: with the stdio transport, stdout
// carries the MCP protocol itself.
func runServe(ctx context.Context, stderr io.Writer, configPath string, transport string) error {
	logger := newLogger(stderr, slog.LevelInfo)
	logger.Info("starting Samuel", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		// Already validated by config.Validate().
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stderr, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"repo", cfg.RepoPath,
		"ha_url", cfg.HomeAssistant.URL,
	)

	if cfg.RepoPath == "" {
		return fmt.Errorf("repo_path is required (set REPO_PATH or repo_path in config)")
	}
	if _, err := os.Stat(cfg.RepoPath); err != nil {
		return fmt.Errorf("config repo not found: %s", cfg.RepoPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	store, err := health.NewStore(filepath.Join(cfg.DataDir, "health.db"))
	if err != nil {
		return fmt.Errorf("open health database: %w", err)
	}
	defer store.Close()

	repo := configrepo.NewReader(cfg.RepoPath, logger)
	docReader := docs.NewReader(cfg.RepoPath)

	// The HA client is always constructed. When unconfigured, state
	// tools report the failure per call instead of refusing to start.
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	reporter := health.NewReporter(ha, store, cfg.DataDir, logger)

	// Shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Live state changes ride the WebSocket API. The connection watcher
	// handles startup backoff and reconnects the socket when HA comes
	// back; the first successful probe also sets up the subscription.
	var changes mcpserver.ChangeSource
	if cfg.HomeAssistant.Configured() {
		haWS := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		defer haWS.Close()

		filter := homeassistant.NewEntityFilter(cfg.Watch, logger)
		recorder := homeassistant.NewChangeRecorder(haWS.Events(), filter, homeassistant.DefaultRecorderCapacity, logger)
		go recorder.Run(ctx)
		changes = recorder

		var subscribeOnce sync.Once
		watcher := connwatch.Watch(ctx, connwatch.Config{
			Name:  "homeassistant",
			Probe: func(pCtx context.Context) error { return ha.Ping(pCtx) },
			OnReady: func() {
				infoCtx, infoCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer infoCancel()
				if haCfg, err := ha.GetConfig(infoCtx); err == nil {
					logger.Info("connected to Home Assistant",
						"url", cfg.HomeAssistant.URL,
						"version", haCfg.Version,
						"location", haCfg.LocationName,
					)
				}

				wsCtx, wsCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer wsCancel()
				if err := haWS.Reconnect(wsCtx); err != nil {
					logger.Error("WebSocket reconnect failed", "error", err)
					return
				}

				// Subsequent reconnects restore subscriptions automatically.
				subscribeOnce.Do(func() {
					subCtx, subCancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer subCancel()
					if err := haWS.Subscribe(subCtx, "state_changed"); err != nil {
						logger.Error("subscribe to state_changed failed", "error", err)
					} else {
						logger.Info("subscribed to state_changed events")
					}
				})
			},
			OnDown: func(err error) {
				logger.Warn("Home Assistant connection lost", "error", err)
			},
			Logger: logger,
		})
		defer watcher.Stop()
	} else {
		logger.Warn("Home Assistant not configured - state tools will report errors")
	}

	srv := mcpserver.New(repo, docReader, ha, reporter, changes, buildinfo.Version, logger)

	if transport == "stdio" {
		return srv.ServeStdio()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	return srv.ServeHTTP(ctx, addr)
}

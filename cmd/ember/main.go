// Ember is a Home Assistant agent backed by Amazon Bedrock.
//
// It exposes an HTTP chat API, a transcript web UI, and optional MQTT
// sensors that surface runtime stats in Home Assistant. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	ember serve              Start the API server
//	ember ask <question>     Ask a single question (for testing)
//	ember version            Print version and build information
//	ember -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/ember-agent/internal/agent"
	"github.com/nugget/ember-agent/internal/api"
	"github.com/nugget/ember-agent/internal/bedrock"
	"github.com/nugget/ember-agent/internal/buildinfo"
	"github.com/nugget/ember-agent/internal/chatlog"
	"github.com/nugget/ember-agent/internal/config"
	"github.com/nugget/ember-agent/internal/homeassistant"
	"github.com/nugget/ember-agent/internal/memory"
	"github.com/nugget/ember-agent/internal/mqtt"
	"github.com/nugget/ember-agent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the ember command. All OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle: ctx controls process lifetime, stdout/stderr receive all
// output, and args is os.Args[1:]. Arguments are parsed by hand; the
// flag package relies on package-level globals which interfere with
// parallel tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: ember ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
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
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Ember - Home Assistant agent for Amazon Bedrock")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ember [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runAsk handles the "ember ask <question>" subcommand. It boots a
// minimal agent with no persistence and processes a single question,
// printing the response to stdout. Useful for smoke tests and
// debugging without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := config.NewLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	backend := bedrock.NewHTTPClient(cfg.Bedrock.Endpoint, cfg.Bedrock.APIKey, logger)
	ag := agent.New(backend, agent.Options{
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	// HA tools are available when configured, reading straight from
	// the REST API; no cache warm-up for a one-shot question.
	registry := tools.NewRegistry()
	if cfg.HomeAssistant.URL != "" {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		cache := homeassistant.NewStateCache(nil, logger)
		tools.RegisterHomeAssistant(registry, ha, cache)
	}

	clog := chatlog.New(registry, logger)
	if cfg.SystemPrompt != "" {
		clog.Append(chatlog.SystemContent{Text: cfg.SystemPrompt})
	}
	clog.Append(chatlog.UserContent{Text: question})

	answer, err := ag.HandleTurn(ctx, clog, registry)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// runServe handles the "ember serve" subcommand. It is the primary
// operating mode: loads config, opens the conversation database,
// connects to Home Assistant and the MQTT broker, and serves the API
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo)
	logger.Info("starting Ember",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		// Already validated by config.Validate, so the error path is
		// unreachable in practice.
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = config.NewLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Agent.Model,
		"endpoint", cfg.Bedrock.Endpoint,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Data directory and conversation store ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := cfg.DataDir + "/ember.db"
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open conversation database %s: %w", dbPath, err)
	}
	defer db.Close()

	store, err := memory.NewStore(db, cfg.Agent.MaxHistory)
	if err != nil {
		return fmt.Errorf("initialize conversation store: %w", err)
	}
	logger.Info("conversation database opened", "path", dbPath)

	// --- Bedrock backend and agent ---
	backend := bedrock.NewHTTPClient(cfg.Bedrock.Endpoint, cfg.Bedrock.APIKey, logger)
	{
		pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := backend.Ping(pingCtx, cfg.Agent.Model)
		cancel()
		if err != nil {
			// The endpoint may recover; don't refuse to start.
			logger.Warn("Bedrock endpoint not reachable at startup", "error", err)
		} else {
			logger.Info("Bedrock endpoint reachable", "model", cfg.Agent.Model)
		}
	}

	ag := agent.New(backend, agent.Options{
		Model:         cfg.Agent.Model,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	tokens := mqtt.NewDailyTokens(time.Local)
	ag.SetTokenObserver(tokens)

	// --- Home Assistant ---
	registry := tools.NewRegistry()
	if cfg.HomeAssistant.URL != "" {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)

		filter := homeassistant.NewEntityFilter(cfg.HomeAssistant.WatchEntities, logger)
		cache := homeassistant.NewStateCache(filter, logger)

		if haCfg, err := ha.GetConfig(ctx); err == nil {
			logger.Info("connected to Home Assistant",
				"url", cfg.HomeAssistant.URL,
				"version", haCfg.Version,
				"location", haCfg.LocationName,
			)
		} else {
			logger.Warn("Home Assistant not reachable at startup", "error", err)
		}

		// Warm the cache from the REST API so tools can answer from
		// memory immediately.
		if states, err := ha.GetStates(ctx); err == nil {
			cache.Warm(states)
		} else {
			logger.Warn("state cache warm-up failed", "error", err)
		}

		// Live updates over the websocket keep the cache current.
		if cfg.HomeAssistant.StateWatch {
			ws := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
			if err := ws.Connect(ctx); err != nil {
				logger.Warn("Home Assistant websocket connect failed", "error", err)
			} else if err := ws.Subscribe(ctx, "state_changed"); err != nil {
				logger.Warn("subscribe to state_changed failed", "error", err)
			} else {
				logger.Info("subscribed to state_changed events")
			}
			go cache.Run(ctx, ws.Events())
			defer ws.Close()
		}

		tools.RegisterHomeAssistant(registry, ha, cache)
		logger.Info("Home Assistant tools registered", "tools", registry.Len())
	} else {
		logger.Warn("Home Assistant not configured - no tools available")
	}

	// --- API server ---
	srv := api.NewServer(
		cfg.Listen.Address, cfg.Listen.Port,
		ag, registry, store,
		cfg.SystemPrompt, cfg.Agent.Model,
		logger,
	)

	// --- MQTT sensors ---
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load instance id: %w", err)
		}

		pub := mqtt.New(cfg.MQTT, instanceID, tokens, srv, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
		logger.Info("mqtt publisher started",
			"broker", cfg.MQTT.Broker,
			"device", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
	}

	// --- Serve until signalled ---
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// Package main provides the entry point for the Mitchell polling agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/agent"
	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/poller"
	"github.com/autoshop-tools/mitchell-agent-go/internal/reasoner"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/worker"
	"github.com/autoshop-tools/mitchell-agent-go/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile   = flag.String("config", "", "path to a KEY=VALUE environment file loaded before env vars are read")
		shopID       = flag.String("shop-id", "", "shop identifier (overrides MITCHELL_SHOP_ID)")
		serverURLs   = flag.String("server-url", "", "comma-separated job server URLs (overrides MITCHELL_SERVER_URL)")
		pollInterval = flag.Duration("poll-interval", 0, "polling interval (overrides MITCHELL_POLL_INTERVAL)")
		headless     = flag.Bool("headless", true, "run the browser headless (overrides MITCHELL_HEADLESS)")
	)
	flag.Parse()

	if *configFile != "" {
		if err := loadEnvFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file: %v\n", err)
			return 1
		}
	}

	cfg := config.Load()

	// Flags take precedence over environment variables.
	if *shopID != "" {
		cfg.ShopID = *shopID
	}
	if *serverURLs != "" {
		cfg.ServerURLs = splitCSV(*serverURLs)
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}
	if flagWasSet("headless") {
		cfg.Headless = *headless
	}

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	printBanner(cfg)

	// Selector catalog, optionally hot-reloaded from an external file
	mgr, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load selector catalog")
		return 1
	}
	defer mgr.Close()

	// Reasoner is optional: without one the navigator runs its
	// deterministic phases only and aborts when they get stuck.
	var reasonerClient reasoner.Client
	if cfg.ReasonerBackend != "" {
		reasonerClient, err = reasoner.New(cfg)
		if err != nil {
			log.Warn().Err(err).
				Str("backend", cfg.ReasonerBackend).
				Msg("Reasoner unavailable, navigation will be deterministic only")
			reasonerClient = nil
		} else {
			log.Info().Str("backend", reasonerClient.Backend()).Msg("Reasoner configured")
		}
	}

	// The manager is handed to the pool so workers spawned after a
	// selector hot reload pick up the new catalog.
	pool := worker.NewPool(cfg, mgr, reasonerClient)
	jobPoller := poller.New(cfg.ServerURLs, cfg.ShopID)
	svc := agent.New(cfg, agent.WrapPool(pool), jobPoller)

	// Channel to signal background tasks to stop
	stopCh := make(chan struct{})
	defer close(stopCh)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartRuntimeCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// The polling loop runs until the context is cancelled by a signal
	// or the poll circuit opens.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := svc.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
		shutdownCancel()
	}

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		log.Info().Msg("Shutdown complete")
		return 0
	case errors.Is(runErr, agent.ErrPollCircuitOpen):
		log.Error().Err(runErr).Msg("Polling circuit open, giving up")
		return 2
	default:
		log.Error().Err(runErr).Msg("Agent terminated with error")
		return 1
	}
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	// Use console writer for prettier output
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	banner := `
 __  __ _ _       _          _ _      _                    _
|  \/  (_) |_ ___| |__   ___| | |    / \   __ _  ___ _ __ | |_
| |\/| | | __/ __| '_ \ / _ \ | |   / _ \ / _' |/ _ \ '_ \| __|
| |  | | | || (__| | | |  __/ | |  / ___ \ (_| |  __/ | | | |_
|_|  |_|_|\__\___|_| |_|\___|_|_| /_/   \_\__, |\___|_| |_|\__|
                                          |___/
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Str("shop_id", cfg.ShopID).
		Int("servers", len(cfg.ServerURLs)).
		Str("scaling_mode", cfg.ScalingMode).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Starting Mitchell agent")
}

// loadEnvFile reads KEY=VALUE lines into the process environment. Blank
// lines and lines starting with # are skipped. Existing environment
// variables win over file values.
func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed line %q in %s", line, path)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// flagWasSet reports whether the named flag appeared on the command line,
// distinguishing an explicit --headless=true from the default.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

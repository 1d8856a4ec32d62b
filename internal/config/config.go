// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolWorkers     = 20
	minBasePort        = 1024
	maxBasePort        = 65000
	maxPollInterval    = 5 * time.Minute
	maxIdleTimeout     = 24 * time.Hour
	maxNavigationSteps = 50
)

// Scaling modes for the worker pool.
const (
	ScalingSingle   = "single"
	ScalingPool     = "pool"
	ScalingOnDemand = "ondemand"
)

// Reasoner backends.
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendServer = "server"
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup; a small set
// of CLI flags may override individual fields afterwards.
type Config struct {
	// Identity
	ShopID     string
	ShopName   string
	ServerURLs []string

	// Portal credentials
	Username string
	Password string

	// Polling behavior
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	MaxPollErrors  int
	RequestTimeout time.Duration

	// Browser settings
	Headless          bool
	BrowserPath       string
	ProfileRoot       string
	PortalURL         string
	NavigationTimeout time.Duration
	ConnectTimeout    time.Duration

	// Worker pool
	ScalingMode string
	MinWorkers  int
	MaxWorkers  int
	IdleTimeout time.Duration
	BasePort    int

	// Session
	SessionIdleTimeout  time.Duration
	SessionWatchPeriod  time.Duration
	AcquireTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Navigator
	MaxNavigationSteps int

	// Reasoner
	ReasonerBackend string
	GeminiAPIKey    string
	GeminiModel     string
	OllamaURL       string
	OllamaModel     string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Selectors
	SelectorsPath      string
	SelectorsHotReload bool

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Identity
		ShopID:     getEnvString("MITCHELL_SHOP_ID", ""),
		ShopName:   getEnvString("MITCHELL_SHOP_NAME", ""),
		ServerURLs: getEnvStringSlice("MITCHELL_SERVER_URL", nil),

		// Credentials
		Username: getEnvString("MITCHELL_USERNAME", ""),
		Password: getEnvString("MITCHELL_PASSWORD", ""),

		// Polling
		PollInterval:   getEnvSeconds("MITCHELL_POLL_INTERVAL", 2*time.Second),
		ErrorBackoff:   getEnvSeconds("MITCHELL_ERROR_BACKOFF", 10*time.Second),
		MaxPollErrors:  getEnvInt("MITCHELL_MAX_POLL_ERRORS", 10),
		RequestTimeout: getEnvDuration("MITCHELL_REQUEST_TIMEOUT", 30*time.Second),

		// Browser
		Headless:          getEnvBool("MITCHELL_HEADLESS", true),
		BrowserPath:       getEnvString("MITCHELL_BROWSER_PATH", ""),
		ProfileRoot:       getEnvString("MITCHELL_PROFILE_ROOT", defaultProfileRoot()),
		PortalURL:         getEnvString("MITCHELL_PORTAL_URL", "https://www.shopkeypro.com"),
		NavigationTimeout: getEnvDuration("MITCHELL_NAVIGATION_TIMEOUT", 45*time.Second),
		ConnectTimeout:    getEnvDuration("MITCHELL_CONNECT_TIMEOUT", 30*time.Second),

		// Scaling
		ScalingMode: getEnvString("MITCHELL_SCALING_MODE", ScalingSingle),
		MinWorkers:  getEnvInt("MITCHELL_POOL_MIN_WORKERS", 1),
		MaxWorkers:  getEnvInt("MITCHELL_POOL_MAX_WORKERS", 3),
		IdleTimeout: getEnvSeconds("MITCHELL_POOL_IDLE_TIMEOUT", 10*time.Minute),
		BasePort:    getEnvInt("MITCHELL_POOL_BASE_PORT", 9222),

		// Session
		SessionIdleTimeout:  getEnvSeconds("MITCHELL_SESSION_IDLE_TIMEOUT", 300*time.Second),
		SessionWatchPeriod:  getEnvDuration("MITCHELL_SESSION_WATCH_PERIOD", 10*time.Second),
		AcquireTimeout:      getEnvDuration("MITCHELL_ACQUIRE_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: getEnvDuration("MITCHELL_SHUTDOWN_GRACE", 30*time.Second),

		// Navigator
		MaxNavigationSteps: getEnvInt("MITCHELL_MAX_NAVIGATION_STEPS", 15),

		// Reasoner
		ReasonerBackend: getEnvString("NAVIGATOR_BACKEND", BackendGemini),
		GeminiAPIKey:    getEnvString("GEMINI_API_KEY", ""),
		GeminiModel:     getEnvString("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaURL:       getEnvString("OLLAMA_URL", "http://localhost:11434/v1"),
		OllamaModel:     getEnvString("OLLAMA_MODEL", "qwen2.5:14b"),

		// Metrics
		MetricsEnabled: getEnvBool("MITCHELL_METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("MITCHELL_METRICS_PORT", 9090),

		// Selectors
		SelectorsPath:      getEnvString("MITCHELL_SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("MITCHELL_SELECTORS_HOT_RELOAD", false),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

func defaultProfileRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./profiles"
	}
	return home + "/.mitchell-agent/profiles"
}

// Validate checks configuration values. Fatal problems (missing shop id, no
// server URLs) return an error; recoverable problems are logged as warnings
// and corrected to sensible defaults.
func (c *Config) Validate() error {
	if c.ShopID == "" {
		return fmt.Errorf("MITCHELL_SHOP_ID is required")
	}
	if len(c.ServerURLs) == 0 {
		return fmt.Errorf("MITCHELL_SERVER_URL is required (comma-separated list)")
	}
	for _, u := range c.ServerURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("server URL %q must start with http:// or https://", u)
		}
	}

	// Scaling mode validation
	switch strings.ToLower(c.ScalingMode) {
	case ScalingSingle, ScalingPool, ScalingOnDemand:
		c.ScalingMode = strings.ToLower(c.ScalingMode)
	default:
		log.Warn().Str("mode", c.ScalingMode).Msg("Invalid scaling mode, using 'single'")
		c.ScalingMode = ScalingSingle
	}

	// Worker bounds
	if c.MaxWorkers < 1 {
		log.Warn().Int("max_workers", c.MaxWorkers).Msg("Invalid max workers, using 3")
		c.MaxWorkers = 3
	} else if c.MaxWorkers > maxPoolWorkers {
		log.Warn().
			Int("max_workers", c.MaxWorkers).
			Int("cap", maxPoolWorkers).
			Msg("Max workers too large, capping")
		c.MaxWorkers = maxPoolWorkers
	}
	if c.MinWorkers < 0 {
		log.Warn().Int("min_workers", c.MinWorkers).Msg("Invalid min workers, using 1")
		c.MinWorkers = 1
	}
	if c.MinWorkers > c.MaxWorkers {
		log.Warn().
			Int("min_workers", c.MinWorkers).
			Int("max_workers", c.MaxWorkers).
			Msg("Min workers exceeds max, adjusting to max")
		c.MinWorkers = c.MaxWorkers
	}
	if c.ScalingMode == ScalingSingle {
		c.MinWorkers = 1
		c.MaxWorkers = 1
	}

	// Port range
	if c.BasePort < minBasePort || c.BasePort > maxBasePort {
		log.Warn().Int("base_port", c.BasePort).Msg("Base port out of range, using 9222")
		c.BasePort = 9222
	}

	// Poll cadence
	if c.PollInterval < 100*time.Millisecond {
		log.Warn().Dur("interval", c.PollInterval).Msg("Poll interval too short, using 2s")
		c.PollInterval = 2 * time.Second
	} else if c.PollInterval > maxPollInterval {
		log.Warn().Dur("interval", c.PollInterval).Msg("Poll interval too long, capping to 5m")
		c.PollInterval = maxPollInterval
	}
	if c.ErrorBackoff < time.Second {
		log.Warn().Dur("backoff", c.ErrorBackoff).Msg("Error backoff too short, using 10s")
		c.ErrorBackoff = 10 * time.Second
	}
	if c.MaxPollErrors < 1 {
		log.Warn().Int("max_errors", c.MaxPollErrors).Msg("Invalid error threshold, using 10")
		c.MaxPollErrors = 10
	}

	// Idle timeouts
	if c.IdleTimeout < time.Minute {
		log.Warn().Dur("idle_timeout", c.IdleTimeout).Msg("Pool idle timeout too short, using 1m")
		c.IdleTimeout = time.Minute
	} else if c.IdleTimeout > maxIdleTimeout {
		log.Warn().Dur("idle_timeout", c.IdleTimeout).Msg("Pool idle timeout too long, capping to 24h")
		c.IdleTimeout = maxIdleTimeout
	}
	if c.SessionIdleTimeout < 30*time.Second {
		log.Warn().Dur("timeout", c.SessionIdleTimeout).Msg("Session idle timeout too short, using 300s")
		c.SessionIdleTimeout = 300 * time.Second
	}
	if c.SessionWatchPeriod < time.Second {
		log.Warn().Dur("period", c.SessionWatchPeriod).Msg("Session watch period too short, using 10s")
		c.SessionWatchPeriod = 10 * time.Second
	}

	// Navigator
	if c.MaxNavigationSteps < 1 {
		log.Warn().Int("steps", c.MaxNavigationSteps).Msg("Invalid navigation step budget, using 15")
		c.MaxNavigationSteps = 15
	} else if c.MaxNavigationSteps > maxNavigationSteps {
		log.Warn().Int("steps", c.MaxNavigationSteps).Msg("Navigation step budget too large, capping to 50")
		c.MaxNavigationSteps = maxNavigationSteps
	}

	// Reasoner backend
	switch strings.ToLower(c.ReasonerBackend) {
	case BackendGemini, BackendOllama, BackendServer:
		c.ReasonerBackend = strings.ToLower(c.ReasonerBackend)
	default:
		log.Warn().Str("backend", c.ReasonerBackend).Msg("Invalid reasoner backend, using 'gemini'")
		c.ReasonerBackend = BackendGemini
	}
	if c.ReasonerBackend == BackendGemini && c.GeminiAPIKey == "" {
		log.Warn().Msg("NAVIGATOR_BACKEND=gemini but GEMINI_API_KEY is empty - reasoner-assisted navigation disabled")
	}

	// Browser path traversal check
	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().Str("path", c.BrowserPath).Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}
	if strings.Contains(c.ProfileRoot, "..") {
		log.Error().Str("path", c.ProfileRoot).Msg("ProfileRoot contains path traversal sequence (..), using default")
		c.ProfileRoot = defaultProfileRoot()
	}

	// Selectors
	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("MITCHELL_SELECTORS_HOT_RELOAD enabled but MITCHELL_SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}

	// Credentials
	if c.Username == "" || c.Password == "" {
		log.Warn().Msg("MITCHELL_USERNAME or MITCHELL_PASSWORD empty - login will fail unless a session is already established")
	}

	// Metrics port
	if c.MetricsEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		log.Warn().Int("port", c.MetricsPort).Msg("Invalid metrics port, using 9090")
		c.MetricsPort = 9090
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil && duration > 0 {
			return duration
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

// getEnvSeconds parses a float number of seconds, matching the job servers'
// convention for interval settings (e.g. MITCHELL_POLL_INTERVAL=2.5).
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		secs, err := strconv.ParseFloat(value, 64)
		if err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid seconds value in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimRight(strings.TrimSpace(part), "/")
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

package config

import (
	"testing"
	"time"
)

// baseConfig returns a config that passes validation.
func baseConfig() *Config {
	cfg := Load()
	cfg.ShopID = "shop-1"
	cfg.ServerURLs = []string{"http://localhost:8000"}
	return cfg
}

func TestValidateRequiresShopID(t *testing.T) {
	cfg := baseConfig()
	cfg.ShopID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing shop id")
	}
}

func TestValidateRequiresServerURL(t *testing.T) {
	cfg := baseConfig()
	cfg.ServerURLs = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing server URLs")
	}

	cfg = baseConfig()
	cfg.ServerURLs = []string{"ftp://bad.example"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-http server URL")
	}
}

func TestValidateClampsWorkers(t *testing.T) {
	cfg := baseConfig()
	cfg.ScalingMode = ScalingPool
	cfg.MaxWorkers = 500
	cfg.MinWorkers = 400
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxWorkers != 20 {
		t.Errorf("MaxWorkers = %d, want capped to 20", cfg.MaxWorkers)
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		t.Errorf("MinWorkers %d exceeds MaxWorkers %d after validation", cfg.MinWorkers, cfg.MaxWorkers)
	}
}

func TestValidateSingleModeForcesOneWorker(t *testing.T) {
	cfg := baseConfig()
	cfg.ScalingMode = ScalingSingle
	cfg.MaxWorkers = 5
	cfg.MinWorkers = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxWorkers != 1 || cfg.MinWorkers != 1 {
		t.Errorf("single mode should force min=max=1, got min=%d max=%d", cfg.MinWorkers, cfg.MaxWorkers)
	}
}

func TestValidateInvalidScalingModeFallsBack(t *testing.T) {
	cfg := baseConfig()
	cfg.ScalingMode = "elastic"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ScalingMode != ScalingSingle {
		t.Errorf("ScalingMode = %q, want %q", cfg.ScalingMode, ScalingSingle)
	}
}

func TestValidateInvalidBackendFallsBack(t *testing.T) {
	cfg := baseConfig()
	cfg.ReasonerBackend = "gpt9"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ReasonerBackend != BackendGemini {
		t.Errorf("ReasonerBackend = %q, want %q", cfg.ReasonerBackend, BackendGemini)
	}
}

func TestGetEnvSeconds(t *testing.T) {
	t.Setenv("MITCHELL_POLL_INTERVAL", "2.5")
	if got := getEnvSeconds("MITCHELL_POLL_INTERVAL", time.Second); got != 2500*time.Millisecond {
		t.Errorf("getEnvSeconds = %v, want 2.5s", got)
	}

	t.Setenv("MITCHELL_POLL_INTERVAL", "garbage")
	if got := getEnvSeconds("MITCHELL_POLL_INTERVAL", time.Second); got != time.Second {
		t.Errorf("getEnvSeconds fallback = %v, want 1s", got)
	}
}

func TestGetEnvStringSliceTrimsAndSplits(t *testing.T) {
	t.Setenv("MITCHELL_SERVER_URL", " http://a.example/ , http://b.example ")
	got := getEnvStringSlice("MITCHELL_SERVER_URL", nil)
	if len(got) != 2 {
		t.Fatalf("got %d URLs, want 2", len(got))
	}
	if got[0] != "http://a.example" || got[1] != "http://b.example" {
		t.Errorf("parsed URLs = %v", got)
	}
}

func TestValidatePathTraversalRejected(t *testing.T) {
	cfg := baseConfig()
	cfg.BrowserPath = "/usr/../etc/passwd"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.BrowserPath != "" {
		t.Errorf("BrowserPath with traversal should be cleared, got %q", cfg.BrowserPath)
	}
}

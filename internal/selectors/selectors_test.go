package selectors

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetLoadsEmbeddedCatalog(t *testing.T) {
	s := Get()
	if s == nil {
		t.Fatal("expected non-nil selectors")
	}
	if len(s.Login.UsernameInputs) == 0 {
		t.Error("expected username input fallback chain")
	}
	if len(s.VehicleSelector.ActiveTabClasses) == 0 {
		t.Error("expected active tab class list")
	}
	if len(s.Modals.CloseSequence) == 0 {
		t.Error("expected modal close sequence")
	}
	if len(s.VehicleSelector.ConfirmButtons) == 0 {
		t.Error("expected confirm button fallbacks")
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("login: [not a map")); err == nil {
		t.Error("expected parse error for invalid YAML")
	}
}

func TestManagerUsesEmbeddedWithoutExternal(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if m.Current() != Get() {
		t.Error("manager without external path should serve the embedded catalog")
	}
}

func TestManagerLoadsExternalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	override := []byte("login:\n  username_inputs: [\"#customUser\"]\n")
	if err := os.WriteFile(path, override, 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	got := m.Current().Login.UsernameInputs
	if len(got) != 1 || got[0] != "#customUser" {
		t.Errorf("override not applied: %v", got)
	}
	if m.Stats().ReloadCount != 1 {
		t.Errorf("ReloadCount = %d, want 1", m.Stats().ReloadCount)
	}
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	if err := os.WriteFile(path, []byte("login:\n  username_inputs: [\"#v1\"]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("login:\n  username_inputs: [\"#v2\"]\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		inputs := m.Current().Login.UsernameInputs
		if len(inputs) == 1 && inputs[0] == "#v2" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("hot reload did not pick up the new catalog in time")
}

func TestManagerCloseIdempotent(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

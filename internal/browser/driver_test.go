package browser

import (
	"context"
	"net"
	"testing"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
)

// A port with no listener means no stale browser to clean up; the startup
// hygiene pass must be a silent no-op.
func TestEnsureCleanStateNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := NewDriver(&config.Config{}, selectors.Get(), 1, port, t.TempDir())
	if err := d.EnsureCleanState(context.Background()); err != nil {
		t.Fatalf("EnsureCleanState on a free port = %v", err)
	}
}

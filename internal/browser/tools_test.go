package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Parameter validation runs before any page interaction, so a nil page is
// safe for these cases.
func TestRunRejectsMissingParams(t *testing.T) {
	l := NewLookup(nil, &selectors.Selectors{})

	tests := []struct {
		tool   string
		params map[string]any
	}{
		{types.ToolSearch, nil},
		{types.ToolSearch, map[string]any{"query": ""}},
		{types.ToolLookupVehicle, nil},
		{types.ToolLookupVehicle, map[string]any{"plate": "", "vin": ""}},
	}
	for _, tt := range tests {
		_, err := l.Run(context.Background(), tt.tool, tt.params)
		if !errors.Is(err, types.ErrMissingField) {
			t.Errorf("Run(%s, %v) error = %v, want ErrMissingField", tt.tool, tt.params, err)
		}
	}
}

func TestRunRejectsUnknownTool(t *testing.T) {
	l := NewLookup(nil, &selectors.Selectors{})

	_, err := l.Run(context.Background(), "format_disk", nil)
	if !errors.Is(err, types.ErrUnknownTool) {
		t.Errorf("Run(format_disk) error = %v, want ErrUnknownTool", err)
	}
}

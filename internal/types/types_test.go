package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestVehicleGoalString(t *testing.T) {
	tests := []struct {
		name    string
		vehicle Vehicle
		want    string
	}{
		{
			name:    "full spec",
			vehicle: Vehicle{Year: 2018, Make: "Ford", Model: "F-150", Engine: "5.0L", Submodel: "XLT", BodyStyle: "4D Pickup", DriveType: "4WD"},
			want:    "2018 Ford F-150 5.0L XLT 4D Pickup 4WD",
		},
		{
			name:    "minimal",
			vehicle: Vehicle{Year: 2020, Make: "Toyota", Model: "Camry"},
			want:    "2020 Toyota Camry",
		},
		{
			name:    "skips empty middle fields",
			vehicle: Vehicle{Year: 2019, Make: "Honda", Model: "Civic", DriveType: "FWD"},
			want:    "2019 Honda Civic FWD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.vehicle.GoalString(); got != tt.want {
				t.Errorf("GoalString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	valid := Request{
		ID:      "x1",
		Tool:    ToolTireSpecs,
		Vehicle: Vehicle{Year: 2018, Make: "Ford", Model: "F-150"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"missing id", func(r *Request) { r.ID = "" }},
		{"missing tool", func(r *Request) { r.Tool = "" }},
		{"unknown tool", func(r *Request) { r.Tool = "get_sandwich" }},
		{"year too old", func(r *Request) { r.Vehicle.Year = 1850 }},
		{"year too new", func(r *Request) { r.Vehicle.Year = 2150 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRequestValidateUnknownToolSentinel(t *testing.T) {
	r := Request{ID: "x1", Tool: "not_a_tool"}
	err := r.Validate()
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestSourceServerNotSerialized(t *testing.T) {
	r := Request{ID: "x1", Tool: ToolTireSpecs, SourceServer: "http://a.example"}
	data, err := json.Marshal(&r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for key := range decoded {
		if key == "source_server" || key == "SourceServer" {
			t.Errorf("source server leaked into wire form: %s", key)
		}
	}
}

func TestSubmitPayloadWhitelist(t *testing.T) {
	r := Result{
		Success:         true,
		Data:            map[string]any{"capacity": "6.0qt"},
		ToolUsed:        ToolFluidCapacities,
		ExecutionTimeMs: 1234,
		AutoSelected:    map[string]string{"submodel": "XLT"},
		TokensUsed:      42,
	}
	payload := r.SubmitPayload()

	want := []string{"success", "data", "error", "tool_used", "execution_time_ms", "images", "tokens_used", "auto_selected"}
	if len(payload) != len(want) {
		t.Errorf("payload has %d keys, want %d", len(payload), len(want))
	}
	for _, key := range want {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing key %q", key)
		}
	}

	if payload["error"] != nil {
		t.Errorf("empty error should serialize as nil, got %v", payload["error"])
	}
	if payload["images"] != nil {
		t.Errorf("absent images should serialize as nil, got %v", payload["images"])
	}
	if payload["tokens_used"] != 42 {
		t.Errorf("tokens_used = %v, want 42", payload["tokens_used"])
	}
}

func TestSubmitPayloadStripsExtras(t *testing.T) {
	// LookedUpVehicle must never appear as its own wire key.
	r := Result{
		Success:         true,
		ToolUsed:        ToolQueryByPlate,
		LookedUpVehicle: &Vehicle{Year: 2018, Make: "Ford", Model: "F-150"},
	}
	payload := r.SubmitPayload()
	if _, ok := payload["looked_up_vehicle"]; ok {
		t.Error("looked_up_vehicle must not be a top-level payload key")
	}
}

func TestNavigationErrorUnwrap(t *testing.T) {
	err := NewMissingFieldError("engine", "2018 Ford F-150")
	if !errors.Is(err, ErrMissingField) {
		t.Error("NewMissingFieldError should unwrap to ErrMissingField")
	}

	stuck := NewStuckError("options", "2018 Ford F-150", "exceeded max steps")
	if !errors.Is(stuck, ErrNavigationStuck) {
		t.Error("NewStuckError should unwrap to ErrNavigationStuck")
	}
}

func TestKnownToolSet(t *testing.T) {
	if len(KnownTools) != 16 {
		t.Errorf("closed tool set has %d entries, want 16", len(KnownTools))
	}
	if !IsKnownTool(ToolQueryByPlate) {
		t.Error("query_by_plate should be known")
	}
	if IsKnownTool("") {
		t.Error("empty tool name should not be known")
	}
}

// Package types provides shared types, interfaces, and errors for the agent.
package types

import (
	"fmt"
	"strings"
)

// Request validation limits.
const (
	MaxRequestIDLength = 128
	MaxToolNameLength  = 64
	MaxFieldLength     = 256
	MinVehicleYear     = 1900
	MaxVehicleYear     = 2099
)

// Tool names accepted from job servers. The set is closed: a request naming
// any other tool is rejected before it touches a browser.
const (
	ToolFluidCapacities   = "get_fluid_capacities"
	ToolDTCInfo           = "get_dtc_info"
	ToolTorqueSpecs       = "get_torque_specs"
	ToolResetProcedure    = "get_reset_procedure"
	ToolTSBList           = "get_tsb_list"
	ToolADASCalibration   = "get_adas_calibration"
	ToolTireSpecs         = "get_tire_specs"
	ToolWiringDiagram     = "get_wiring_diagram"
	ToolSpecsProcedures   = "get_specs_procedures"
	ToolComponentLocation = "get_component_location"
	ToolComponentTests    = "get_component_tests"
	ToolLookupVehicle     = "lookup_vehicle"
	ToolQueryByPlate      = "query_by_plate"
	ToolSearch            = "search_mitchell"
	ToolQuery             = "query_mitchell"
	ToolQueryAutonomous   = "query_autonomous"
)

// KnownTools maps every accepted tool name to true.
var KnownTools = map[string]bool{
	ToolFluidCapacities:   true,
	ToolDTCInfo:           true,
	ToolTorqueSpecs:       true,
	ToolResetProcedure:    true,
	ToolTSBList:           true,
	ToolADASCalibration:   true,
	ToolTireSpecs:         true,
	ToolWiringDiagram:     true,
	ToolSpecsProcedures:   true,
	ToolComponentLocation: true,
	ToolComponentTests:    true,
	ToolLookupVehicle:     true,
	ToolQueryByPlate:      true,
	ToolSearch:            true,
	ToolQuery:             true,
	ToolQueryAutonomous:   true,
}

// IsKnownTool reports whether name is in the closed tool set.
func IsKnownTool(name string) bool {
	return KnownTools[name]
}

// NavigationSkipTools perform their own vehicle resolution; the handler must
// not run the selector navigation before dispatching them.
var NavigationSkipTools = map[string]bool{
	ToolLookupVehicle: true,
	ToolQueryByPlate:  true,
}

// Vehicle identifies the vehicle a request targets. Year, Make and Model are
// required for selector navigation; the remaining fields narrow the selection.
type Vehicle struct {
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Engine    string `json:"engine,omitempty"`
	Submodel  string `json:"submodel,omitempty"`
	BodyStyle string `json:"body_style,omitempty"`
	DriveType string `json:"drive_type,omitempty"`
}

// GoalString joins the non-empty vehicle fields into the free-text goal the
// navigator parses. Field order is fixed: year make model engine submodel
// body_style drive_type.
func (v Vehicle) GoalString() string {
	parts := make([]string, 0, 7)
	if v.Year != 0 {
		parts = append(parts, fmt.Sprintf("%d", v.Year))
	}
	for _, s := range []string{v.Make, v.Model, v.Engine, v.Submodel, v.BodyStyle, v.DriveType} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Request is one pending job pulled from a server.
//
// SourceServer is attached by the poller after fetch and is never serialized
// back to a server; result submission routes by it.
type Request struct {
	ID      string         `json:"id"`
	Tool    string         `json:"tool"`
	Vehicle Vehicle        `json:"vehicle"`
	Params  map[string]any `json:"params"`
	UserID  string         `json:"user_id,omitempty"`

	SourceServer string `json:"-"`
}

// Validate checks the request shape before it is claimed.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if len(r.ID) > MaxRequestIDLength {
		return fmt.Errorf("request id exceeds maximum length of %d", MaxRequestIDLength)
	}
	if r.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if len(r.Tool) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d", MaxToolNameLength)
	}
	if !IsKnownTool(r.Tool) {
		return fmt.Errorf("%w: %q", ErrUnknownTool, r.Tool)
	}
	if r.Vehicle.Year != 0 && (r.Vehicle.Year < MinVehicleYear || r.Vehicle.Year > MaxVehicleYear) {
		return fmt.Errorf("vehicle year %d outside %d-%d", r.Vehicle.Year, MinVehicleYear, MaxVehicleYear)
	}
	for _, f := range []string{r.Vehicle.Make, r.Vehicle.Model, r.Vehicle.Engine, r.Vehicle.Submodel, r.Vehicle.BodyStyle, r.Vehicle.DriveType} {
		if len(f) > MaxFieldLength {
			return fmt.Errorf("vehicle field exceeds maximum length of %d", MaxFieldLength)
		}
	}
	return nil
}

// PendingResponse is the body of GET /api/mitchell/pending/{shop_id}.
type PendingResponse struct {
	Requests []*Request `json:"requests"`
}

// Package handler executes one claimed request end to end: session, vehicle
// navigation, tool dispatch, result shaping. It also owns the session-reuse
// policy: keep the portal session warm after success, log out after errors.
package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/browser"
	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/navigator"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Session is the slice of the session manager the handler drives.
type Session interface {
	EnsureLoggedIn(ctx context.Context) error
	UpdateActivity()
	Logout(ctx context.Context) error
}

// Navigator selects a vehicle from a free-text goal.
type Navigator interface {
	SetRequestContext(requestID, shopID string)
	Navigate(ctx context.Context, goal string) *types.NavigationResult
}

// ToolRunner extracts tool content from the portal. The live implementation
// is browser.Lookup.
type ToolRunner interface {
	Run(ctx context.Context, tool string, params map[string]any) (*browser.LookupOutput, error)
}

// Handler processes requests for one worker. Not safe for concurrent use;
// each worker owns its own.
type Handler struct {
	session Session
	nav     Navigator
	runner  ToolRunner
	shopID  string
}

// New wires a handler over a worker's session, navigator and tool runner.
func New(session Session, nav Navigator, runner ToolRunner, shopID string) *Handler {
	return &Handler{session: session, nav: nav, runner: runner, shopID: shopID}
}

// Process executes req and always returns a Result; failures are carried in
// Result.Error rather than a Go error so the caller can submit them.
func (h *Handler) Process(ctx context.Context, req *types.Request) *types.Result {
	start := time.Now()
	result := h.process(ctx, req)
	result.ToolUsed = req.Tool
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	status := "success"
	if !result.Success {
		status = "error"
		if _, ok := result.Data.(*types.ClarificationData); ok {
			status = "clarification"
		}
	}
	metrics.RecordRequest(req.Tool, status, time.Since(start))
	return result
}

func (h *Handler) process(ctx context.Context, req *types.Request) *types.Result {
	if err := h.session.EnsureLoggedIn(ctx); err != nil {
		if errors.Is(err, types.ErrSessionLimit) {
			// The session was never established; logging out would only
			// disturb whoever holds the licenses.
			return &types.Result{Success: false, Error: err.Error()}
		}
		log.Error().Str("request_id", req.ID).Err(err).Msg("Portal login failed")
		h.logout(ctx)
		return &types.Result{Success: false, Error: "Failed to connect"}
	}
	h.session.UpdateActivity()

	result := &types.Result{}
	if !types.NavigationSkipTools[req.Tool] {
		vehicle := req.Vehicle
		extractDriveType(&vehicle)

		h.nav.SetRequestContext(req.ID, h.shopID)
		nr := h.nav.Navigate(ctx, vehicle.GoalString())
		result.TokensUsed = nr.TokensUsed
		if !nr.Success {
			if len(nr.Clarifications) > 0 {
				c := nr.Clarifications[0]
				result.Data = &types.ClarificationData{
					ClarificationNeeded: true,
					MissingField:        c.OptionName,
					Options:             c.AvailableValues,
					Message:             c.Message,
				}
				// A clarified retry is expected shortly; keep the session.
				return result
			}
			log.Warn().Str("request_id", req.ID).Str("error", nr.Error).Msg("Vehicle navigation failed")
			h.logout(ctx)
			result.Error = nr.Error
			return result
		}
		result.AutoSelected = nr.AutoSelected
		h.session.UpdateActivity()
	}

	if req.Tool == types.ToolQueryByPlate {
		return h.plateFlow(ctx, req, result)
	}

	out, err := h.runner.Run(ctx, req.Tool, req.Params)
	if err != nil {
		log.Error().Str("request_id", req.ID).Str("tool", req.Tool).Err(err).Msg("Tool execution failed")
		h.logout(ctx)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Data = out.Data
	result.Images = out.Images
	h.session.UpdateActivity()
	return result
}

// plateFlow runs lookup_vehicle first, then the caller's target tool against
// the decoded vehicle.
func (h *Handler) plateFlow(ctx context.Context, req *types.Request, result *types.Result) *types.Result {
	lookup, err := h.runner.Run(ctx, types.ToolLookupVehicle, req.Params)
	if err != nil {
		h.logout(ctx)
		result.Error = err.Error()
		return result
	}

	vehicle := vehicleFromText(lookup.VehicleText)
	target, _ := req.Params["target_tool"].(string)
	if target == "" || !types.IsKnownTool(target) {
		h.logout(ctx)
		result.Error = fmt.Sprintf("%v: target_tool %q", types.ErrUnknownTool, target)
		return result
	}

	// The lookup already selected the vehicle in the portal; the target tool
	// runs without a second navigation.
	out, err := h.runner.Run(ctx, target, req.Params)
	if err != nil {
		h.logout(ctx)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Data = map[string]any{
		"result":            out.Data,
		"looked_up_vehicle": vehicle,
	}
	result.Images = out.Images
	result.LookedUpVehicle = vehicle
	h.session.UpdateActivity()
	return result
}

// logout restores a clean portal state after a failure. Errors are logged
// only; the original failure is what the caller reports.
func (h *Handler) logout(ctx context.Context) {
	if err := h.session.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("Cleanup logout failed")
	}
}

// vehicleFromText parses the portal's vehicle banner into structured fields.
func vehicleFromText(text string) *types.Vehicle {
	g := navigator.ParseGoal(text)
	return &types.Vehicle{
		Year:      g.Year,
		Make:      g.Make,
		Model:     g.Model,
		Engine:    g.Engine,
		Submodel:  g.Submodel,
		BodyStyle: g.BodyStyle,
		DriveType: g.DriveType,
	}
}

var driveTokenRe = regexp.MustCompile(`(?i)\b(4WD|AWD|RWD|FWD|2WD|4x4)\b`)

// extractDriveType lifts a drive-type token buried in another vehicle field
// into DriveType so goal parsing sees it in its own slot.
func extractDriveType(v *types.Vehicle) {
	if v.DriveType != "" {
		return
	}
	for _, field := range []*string{&v.Submodel, &v.BodyStyle, &v.Engine} {
		if m := driveTokenRe.FindString(*field); m != "" {
			token := strings.ToUpper(m)
			if token == "4X4" {
				token = "4WD"
			}
			v.DriveType = token
			*field = strings.Join(strings.Fields(driveTokenRe.ReplaceAllString(*field, "")), " ")
			return
		}
	}
}

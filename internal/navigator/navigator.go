package navigator

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/browser"
	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/reasoner"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Category tabs walked in Phase 1, in selection order.
var phase1Categories = []string{"year", "make", "model", "engine", "submodel"}

// earlyTabStuckLimit is the iteration bound after which still sitting on a
// Phase 1 tab during Phase 2 counts as stuck.
const earlyTabStuckLimit = 5

// phase1Budget bounds the deterministic walk; each category can need a
// couple of iterations when the portal re-filters slowly.
const phase1Budget = 12

// Page is the selector surface the navigator drives. The live
// implementation is browser.Portal; tests substitute scripted fakes.
type Page interface {
	OpenSelector(ctx context.Context) error
	IsOpen(ctx context.Context) (bool, error)
	ActiveTab(ctx context.Context) (name string, ok bool, err error)
	ClickTab(ctx context.Context, name string) error
	Values(ctx context.Context) ([]string, error)
	ClickValue(ctx context.Context, value string) error
	SelectedValues(ctx context.Context) ([]string, error)
	OptionGroups(ctx context.Context) ([]browser.OptionGroup, error)
	ClickGroupValue(ctx context.Context, group, value string) error
	ConfirmEnabled(ctx context.Context) (bool, error)
	ClickConfirm(ctx context.Context) error
	ClickCancel(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// ClarifyFunc resolves an under-specified option. Returning ok=false aborts
// the navigation with the clarification recorded in the result.
type ClarifyFunc func(option string, available []string, message string) (string, bool)

// Navigator drives one vehicle selection per Navigate call. It is owned by
// exactly one worker and never shared.
type Navigator struct {
	page     Page
	reasoner reasoner.Client // nil disables the reasoner fallback
	maxSteps int
	clarify  ClarifyFunc

	requestID string
	shopID    string
}

// New creates a navigator over the given page surface.
func New(page Page, r reasoner.Client, maxSteps int, clarify ClarifyFunc) *Navigator {
	if maxSteps < 1 {
		maxSteps = 15
	}
	return &Navigator{page: page, reasoner: r, maxSteps: maxSteps, clarify: clarify}
}

// SetRequestContext attaches routing identifiers used by the server-proxy
// reasoner backend. Cleared state is fine for the other backends.
func (n *Navigator) SetRequestContext(requestID, shopID string) {
	n.requestID = requestID
	n.shopID = shopID
}

// Navigate selects the vehicle described by goal. On success the selector is
// closed; on failure the selector is cancelled before returning.
func (n *Navigator) Navigate(ctx context.Context, goal string) *types.NavigationResult {
	runID := uuid.NewString()[:8]
	logger := log.With().Str("nav_run", runID).Str("goal", goal).Logger()

	result := &types.NavigationResult{AutoSelected: make(map[string]string)}
	parsed := ParseGoal(goal)
	logger.Debug().Str("parsed", parsed.String()).Msg("Goal parsed")

	if missing := parsed.MissingRequired(); missing != "" {
		if !n.resolveMissing(parsed, missing, result, logger) {
			result.Success = false
			result.Error = "required vehicle field missing: " + missing
			return result
		}
	}

	if err := n.page.OpenSelector(ctx); err != nil {
		result.Success = false
		result.Error = (&types.NavigationError{
			Stage: "open_selector", Goal: goal,
			Message: "vehicle selector failed to open",
			Err:     types.ErrSelectorNotOpen,
		}).Error()
		return result
	}

	steps := 0
	defer func() { metrics.NavigationSteps.Observe(float64(steps)) }()

	if err := n.phase1(ctx, parsed, result, &steps, logger); err != nil {
		n.abort(ctx, logger)
		result.Success = false
		result.Error = err.Error()
		return result
	}
	if len(result.Clarifications) > 0 {
		n.abort(ctx, logger)
		result.Success = false
		return result
	}

	if err := n.phase2(ctx, parsed, result, &steps, logger); err != nil {
		n.abort(ctx, logger)
		result.Success = false
		result.Error = err.Error()
		return result
	}

	if len(result.Clarifications) > 0 {
		n.abort(ctx, logger)
		result.Success = false
		return result
	}

	logger.Info().Int("steps", steps).Msg("Vehicle selected")
	result.Success = true
	return result
}

// resolveMissing runs the clarification protocol for an absent required
// field. True means the goal was amended and navigation can proceed.
func (n *Navigator) resolveMissing(parsed *VehicleGoal, field string, result *types.NavigationResult, logger zerolog.Logger) bool {
	message := "the vehicle description does not name a " + field
	if n.clarify != nil {
		if value, ok := n.clarify(field, nil, message); ok && value != "" {
			logger.Info().Str("field", field).Str("value", value).Msg("Clarification resolved missing field")
			switch field {
			case "year":
				amended := ParseGoal(value + " " + parsed.Raw)
				*parsed = *amended
			case "make":
				parsed.Make = value
			case "model":
				parsed.Model = value
			}
			return parsed.MissingRequired() == ""
		}
	}

	result.Clarifications = append(result.Clarifications, types.Clarification{
		OptionName: field,
		Message:    message,
	})
	return false
}

// phase1 walks Year through Submodel deterministically.
func (n *Navigator) phase1(ctx context.Context, goal *VehicleGoal, result *types.NavigationResult, steps *int, logger zerolog.Logger) error {
	for iter := 0; iter < phase1Budget; iter++ {
		*steps++

		tab, ok, err := n.page.ActiveTab(ctx)
		if err != nil {
			return types.NewStuckError("phase1", goal.Raw, "active tab read failed: "+err.Error())
		}
		if !ok {
			// Selector closed already; nothing left to select.
			return nil
		}

		category := normalizeTab(tab)
		if !isPhase1Category(category) {
			return nil // Options tab reached
		}

		wanted := goal.valueFor(category)
		values, err := n.page.Values(ctx)
		if err != nil {
			return types.NewStuckError(category, goal.Raw, "value list read failed: "+err.Error())
		}

		// An unspecified engine with several candidates is ambiguous in a
		// way auto-selection cannot paper over; ask for clarification.
		if category == "engine" && wanted == "" && len(values) > 1 {
			resolved := ""
			message := "multiple engines are available for this vehicle"
			if n.clarify != nil {
				if value, ok := n.clarify("engine", values, message); ok && value != "" {
					resolved = matchValue(values, value)
				}
			}
			if resolved == "" {
				result.Clarifications = append(result.Clarifications, types.Clarification{
					OptionName:      "engine",
					AvailableValues: values,
					Message:         message,
				})
				return nil
			}
			logger.Debug().Str("engine", resolved).Msg("Engine resolved by clarification")
			if err := n.page.ClickValue(ctx, resolved); err != nil {
				return types.NewStuckError(category, goal.Raw, "click failed: "+err.Error())
			}
			continue
		}

		choice, auto := n.pickPhase1Value(category, wanted, values, goal)
		if choice == "" {
			if isRequiredCategory(category) {
				return &types.NavigationError{
					Stage: category, Goal: goal.Raw,
					Message: "no " + category + " option matches " + quoteOr(wanted, goal.Raw),
					Err:     types.ErrNavigationStuck,
				}
			}
			// Optional category with nothing to pick: move on by clicking
			// nothing; the portal auto-advances once a later tab is clicked.
			logger.Debug().Str("category", category).Msg("No selectable value, leaving category")
			return nil
		}

		logger.Debug().Str("category", category).Str("choice", choice).Bool("auto", auto).Msg("Selecting value")
		if err := n.page.ClickValue(ctx, choice); err != nil {
			return types.NewStuckError(category, goal.Raw, "click failed: "+err.Error())
		}
		if auto {
			result.AutoSelected[category] = choice
		}
	}
	return types.NewStuckError("phase1", goal.Raw, "category walk did not converge")
}

// pickPhase1Value applies the per-category matching rules. auto reports that
// the value was chosen without goal support and must be recorded.
func (n *Navigator) pickPhase1Value(category, wanted string, values []string, goal *VehicleGoal) (choice string, auto bool) {
	if len(values) == 0 {
		return "", false
	}

	if wanted != "" {
		if m := matchValue(values, wanted); m != "" {
			return m, false
		}
	}

	switch category {
	case "engine":
		// Unspecified engine with options present: take the first.
		if wanted == "" {
			return values[0], false
		}
	case "submodel":
		// Any value appearing verbatim in the goal text wins.
		lowerGoal := strings.ToLower(goal.Raw)
		for _, v := range values {
			if strings.Contains(lowerGoal, strings.ToLower(v)) {
				return v, false
			}
		}
		if len(values) == 1 {
			return values[0], false
		}
		return values[0], true
	}
	return "", false
}

// phase2 resolves the Options tab within the step budget.
func (n *Navigator) phase2(ctx context.Context, goal *VehicleGoal, result *types.NavigationResult, steps *int, logger zerolog.Logger) error {
	for iter := 1; iter <= n.maxSteps; iter++ {
		*steps++

		tab, ok, err := n.page.ActiveTab(ctx)
		if err != nil {
			return types.NewStuckError("options", goal.Raw, "active tab read failed: "+err.Error())
		}
		if !ok {
			return nil // selector closed: done
		}

		category := normalizeTab(tab)
		switch {
		case category == "submodel":
			values, err := n.page.Values(ctx)
			if err != nil || len(values) == 0 {
				return types.NewStuckError("submodel", goal.Raw, "no submodel values while finalizing")
			}
			if err := n.page.ClickValue(ctx, values[0]); err != nil {
				return types.NewStuckError("submodel", goal.Raw, "click failed: "+err.Error())
			}
			result.AutoSelected["submodel"] = values[0]
			continue

		case isPhase1Category(category):
			if iter > earlyTabStuckLimit {
				return types.NewStuckError(category, goal.Raw, "still on an early tab during option selection")
			}
			continue
		}

		// Options tab proper.
		groups, err := n.page.OptionGroups(ctx)
		if err != nil {
			return types.NewStuckError("options", goal.Raw, "option groups read failed: "+err.Error())
		}

		var progressed bool
		if len(groups) > 0 {
			progressed, err = n.stepStructured(ctx, goal, groups, result, logger)
		} else {
			progressed, err = n.stepFlat(ctx, goal, result, logger)
		}
		if err != nil {
			return err
		}
		if progressed {
			continue
		}

		// Nothing left to pick deterministically: confirm if possible.
		if enabled, _ := n.page.ConfirmEnabled(ctx); enabled {
			logger.Debug().Msg("Confirming vehicle")
			if err := n.page.ClickConfirm(ctx); err != nil {
				return types.NewStuckError("confirm", goal.Raw, "confirm click failed: "+err.Error())
			}
			continue
		}

		// Deterministic rules and the confirm button are both out; hand the
		// step to the reasoner when one is configured.
		if n.reasoner != nil {
			if err := n.reasonerStep(ctx, goal, groups, result, iter, logger); err != nil {
				return err
			}
			if len(result.Clarifications) > 0 {
				// Unanswered clarification: the caller relays it back.
				return nil
			}
			continue
		}

		return &types.NavigationError{
			Stage: "options", Goal: goal.Raw,
			Message: "could not complete Options selection",
			Err:     types.ErrOptionsIncomplete,
		}
	}

	return &types.NavigationError{
		Stage: "options", Goal: goal.Raw,
		Message: "could not complete Options selection",
		Err:     types.ErrOptionsIncomplete,
	}
}

// stepStructured handles one structured option group without a selection.
// progressed=false means every group already has a value.
func (n *Navigator) stepStructured(ctx context.Context, goal *VehicleGoal, groups []browser.OptionGroup, result *types.NavigationResult, logger zerolog.Logger) (bool, error) {
	for _, group := range groups {
		if group.Selected != "" || len(group.Values) == 0 {
			continue
		}

		choice, auto := pickGroupValue(group, goal)
		logger.Debug().
			Str("group", group.Name).
			Str("choice", choice).
			Bool("auto", auto).
			Msg("Selecting option group value")

		if err := n.page.ClickGroupValue(ctx, group.Name, choice); err != nil {
			return false, types.NewStuckError("options", goal.Raw,
				"group "+group.Name+" click failed: "+err.Error())
		}
		if auto {
			result.AutoSelected[normalizeKey(group.Name)] = choice
		}
		return true, nil
	}
	return false, nil
}

// pickGroupValue applies the structured-case rules for one group.
func pickGroupValue(group browser.OptionGroup, goal *VehicleGoal) (choice string, auto bool) {
	key := normalizeKey(group.Name)
	lowerGoal := strings.ToLower(goal.Raw)

	switch key {
	case "body_style":
		if goal.BodyStyle != "" {
			if m := matchValue(group.Values, goal.BodyStyle); m != "" {
				return m, false
			}
		}
		for _, v := range group.Values {
			if strings.Contains(lowerGoal, strings.ToLower(v)) {
				return v, false
			}
		}
		// Leading-token prefix: the first two tokens of a value appearing in
		// the goal is close enough (e.g. "4D Pickup" vs "4D Pickup 4WD").
		for _, v := range group.Values {
			tokens := strings.Fields(v)
			if len(tokens) >= 2 {
				prefix := strings.ToLower(tokens[0] + " " + tokens[1])
				if strings.Contains(lowerGoal, prefix) {
					return v, false
				}
			}
		}
		return group.Values[0], true

	case "drive_type":
		if goal.DriveType != "" {
			if m := matchValue(group.Values, goal.DriveType); m != "" {
				return m, false
			}
		}
		for _, v := range group.Values {
			for _, tok := range driveTokens {
				if strings.Contains(strings.ToUpper(v), tok) &&
					strings.Contains(strings.ToUpper(goal.Raw), tok) {
					return v, false
				}
			}
		}
		return group.Values[0], true

	default:
		for _, v := range group.Values {
			if strings.Contains(lowerGoal, strings.ToLower(v)) {
				return v, false
			}
		}
		return group.Values[0], true
	}
}

var driveTokens = []string{"4WD", "2WD", "AWD", "RWD", "FWD"}

var bodyStyleTokens = []string{"2D", "4D", "PICKUP", "SEDAN", "COUPE", "HATCH", "WAGON", "CAB"}

// stepFlat handles the flat value list case. progressed=false means every
// goal-matching value is already selected.
func (n *Navigator) stepFlat(ctx context.Context, goal *VehicleGoal, result *types.NavigationResult, logger zerolog.Logger) (bool, error) {
	values, err := n.page.Values(ctx)
	if err != nil {
		return false, types.NewStuckError("options", goal.Raw, "value list read failed: "+err.Error())
	}
	selected, err := n.page.SelectedValues(ctx)
	if err != nil {
		return false, types.NewStuckError("options", goal.Raw, "selected values read failed: "+err.Error())
	}

	done := make(map[string]bool, len(selected))
	for _, s := range selected {
		done[strings.ToLower(s)] = true
	}

	var unselected []string
	for _, v := range values {
		if !done[strings.ToLower(v)] {
			unselected = append(unselected, v)
		}
	}
	if len(unselected) == 0 {
		return false, nil
	}

	choice, auto := pickFlatValue(unselected, goal)
	if choice == "" {
		// Nothing matches the goal. Confirm takes precedence when it is
		// already clickable; otherwise the first unselected value is
		// auto-selected, same as the structured groups.
		if enabled, _ := n.page.ConfirmEnabled(ctx); enabled {
			return false, nil
		}
		choice, auto = unselected[0], true
	}

	logger.Debug().Str("choice", choice).Bool("auto", auto).Msg("Selecting flat option value")
	if err := n.page.ClickValue(ctx, choice); err != nil {
		return false, types.NewStuckError("options", goal.Raw, "flat click failed: "+err.Error())
	}
	if auto {
		result.AutoSelected[normalizeKey(choice)] = choice
	}
	return true, nil
}

// pickFlatValue chooses one unselected value: goal substring, then known
// body-style tokens, then drive-type tokens. Empty with auto=false means no
// candidate matches the goal at all.
func pickFlatValue(unselected []string, goal *VehicleGoal) (choice string, auto bool) {
	lowerGoal := strings.ToLower(goal.Raw)
	upperGoal := strings.ToUpper(goal.Raw)

	for _, v := range unselected {
		if strings.Contains(lowerGoal, strings.ToLower(v)) {
			return v, false
		}
	}
	for _, v := range unselected {
		upper := strings.ToUpper(v)
		for _, tok := range bodyStyleTokens {
			if strings.Contains(upper, tok) && strings.Contains(upperGoal, tok) {
				return v, false
			}
		}
	}
	for _, v := range unselected {
		upper := strings.ToUpper(v)
		for _, tok := range driveTokens {
			if strings.Contains(upper, tok) && strings.Contains(upperGoal, tok) {
				return v, false
			}
		}
	}
	return "", false
}

// reasonerStep asks the configured backend for one decision and applies it.
func (n *Navigator) reasonerStep(ctx context.Context, goal *VehicleGoal, groups []browser.OptionGroup, result *types.NavigationResult, step int, logger zerolog.Logger) error {
	state := buildPageState(groups)
	var screenshot []byte
	if shot, err := n.page.Screenshot(ctx); err == nil {
		screenshot = shot
	}

	decision, err := n.reasoner.Decide(ctx, &reasoner.Request{
		System: navigationSystemPrompt,
		Turns: []reasoner.Turn{{
			Role:    "user",
			Content: "Goal: " + goal.Raw + "\nPage state: " + state,
		}},
		Tools:      ToolSchema(),
		Screenshot: screenshot,
		RequestID:  n.requestID,
		ShopID:     n.shopID,
		Goal:       goal.Raw,
		PageState:  groups,
		Step:       step,
	})
	if err != nil {
		return &types.NavigationError{
			Stage: "options", Goal: goal.Raw,
			Message: "reasoner step failed: " + err.Error(),
			Err:     err,
		}
	}
	result.TokensUsed += decision.TokensUsed

	if decision.Call == nil {
		// Text response is an abort signal.
		return &types.NavigationError{
			Stage: "options", Goal: goal.Raw,
			Message: "reasoner declined to act: " + decision.Text,
			Err:     types.ErrOptionsIncomplete,
		}
	}

	logger.Debug().Str("tool", decision.Call.Name).Msg("Applying reasoner decision")
	return n.applyDecision(ctx, goal, decision.Call, result)
}

// applyDecision maps a reasoner tool call onto page actions.
func (n *Navigator) applyDecision(ctx context.Context, goal *VehicleGoal, call *reasoner.ToolCall, result *types.NavigationResult) error {
	argString := func(key string) string {
		if v, ok := call.Args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	switch call.Name {
	case "select_year", "select_make", "select_model", "select_engine", "select_submodel":
		field := strings.TrimPrefix(call.Name, "select_")
		value := argString(field)
		if value == "" {
			return types.NewReasonerProtocolError(n.reasoner.Backend(), 0, call.Name+" missing argument")
		}
		return n.page.ClickValue(ctx, value)

	case "select_body_style":
		return n.page.ClickGroupValue(ctx, "Body Style", argString("body_style"))

	case "select_drive_type":
		return n.page.ClickGroupValue(ctx, "Drive Type", argString("drive_type"))

	case "request_info":
		option := argString("option_name")
		message := argString("message")
		var available []string
		if raw, ok := call.Args["available_values"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					available = append(available, s)
				}
			}
		}
		if n.clarify != nil {
			if value, ok := n.clarify(option, available, message); ok && value != "" {
				return n.page.ClickValue(ctx, value)
			}
		}
		result.Clarifications = append(result.Clarifications, types.Clarification{
			OptionName:      option,
			AvailableValues: available,
			Message:         message,
		})
		return nil

	case "confirm_vehicle":
		return n.page.ClickConfirm(ctx)

	case "done":
		return nil

	default:
		return types.NewReasonerProtocolError(n.reasoner.Backend(), 0, "unknown tool "+call.Name)
	}
}

// abort closes the selector with Cancel so a failed navigation leaves the
// portal in a usable state.
func (n *Navigator) abort(ctx context.Context, logger zerolog.Logger) {
	if err := n.page.ClickCancel(ctx); err != nil {
		logger.Debug().Err(err).Msg("Selector cancel failed during abort")
	}
}

// matchValue finds wanted in values: case-insensitive exact equality first,
// then substring containment in either direction.
func matchValue(values []string, wanted string) string {
	lower := strings.ToLower(strings.TrimSpace(wanted))
	if lower == "" {
		return ""
	}
	for _, v := range values {
		if strings.ToLower(strings.TrimSpace(v)) == lower {
			return v
		}
	}
	for _, v := range values {
		lv := strings.ToLower(v)
		if strings.Contains(lv, lower) || strings.Contains(lower, lv) {
			return v
		}
	}
	return ""
}

// valueFor returns the goal field for a phase 1 category.
func (g *VehicleGoal) valueFor(category string) string {
	switch category {
	case "year":
		if g.Year == 0 {
			return ""
		}
		return strconv.Itoa(g.Year)
	case "make":
		return g.Make
	case "model":
		return g.Model
	case "engine":
		return g.Engine
	case "submodel":
		return g.Submodel
	}
	return ""
}

func normalizeTab(tab string) string {
	return strings.ToLower(strings.TrimSpace(tab))
}

func normalizeKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func isPhase1Category(category string) bool {
	for _, c := range phase1Categories {
		if c == category {
			return true
		}
	}
	return false
}

func isRequiredCategory(category string) bool {
	return category == "year" || category == "make" || category == "model"
}

func quoteOr(wanted, fallback string) string {
	if wanted != "" {
		return "\"" + wanted + "\""
	}
	return "\"" + fallback + "\""
}

// buildPageState renders the option groups as compact text for the reasoner.
func buildPageState(groups []browser.OptionGroup) string {
	if len(groups) == 0 {
		return "flat value list"
	}
	var b strings.Builder
	for i, g := range groups {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(g.Name)
		b.WriteString(" [")
		b.WriteString(strings.Join(g.Values, ", "))
		b.WriteString("]")
		if g.Selected != "" {
			b.WriteString(" selected=")
			b.WriteString(g.Selected)
		}
	}
	return b.String()
}

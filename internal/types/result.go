package types

// Result is the outcome of executing one claimed request.
type Result struct {
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ToolUsed        string            `json:"tool_used"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	Images          []string          `json:"images,omitempty"`
	AutoSelected    map[string]string `json:"auto_selected,omitempty"`
	TokensUsed      int               `json:"tokens_used,omitempty"`

	// LookedUpVehicle carries the decoded vehicle for plate-based lookups.
	// It travels inside Data on the wire; the field here lets the handler
	// thread it between the lookup and the target tool.
	LookedUpVehicle *Vehicle `json:"-"`
}

// SubmitPayload builds the exact wire body for POST /api/mitchell/result.
// Only the whitelisted keys are sent; absent optional values are serialized
// as explicit nulls so the server sees a stable shape.
func (r *Result) SubmitPayload() map[string]any {
	payload := map[string]any{
		"success":           r.Success,
		"data":              nil,
		"error":             nil,
		"tool_used":         r.ToolUsed,
		"execution_time_ms": r.ExecutionTimeMs,
		"images":            nil,
		"tokens_used":       nil,
		"auto_selected":     nil,
	}
	if r.Data != nil {
		payload["data"] = r.Data
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if len(r.Images) > 0 {
		payload["images"] = r.Images
	}
	if r.TokensUsed > 0 {
		payload["tokens_used"] = r.TokensUsed
	}
	if len(r.AutoSelected) > 0 {
		payload["auto_selected"] = r.AutoSelected
	}
	return payload
}

// ClarificationData is the Result.Data shape when navigation needs a missing
// field resolved by the user before the request can proceed.
type ClarificationData struct {
	ClarificationNeeded bool     `json:"clarification_needed"`
	MissingField        string   `json:"missing_field"`
	Options             []string `json:"options"`
	Message             string   `json:"message"`
}

// Clarification is one unresolved option request produced by the navigator.
type Clarification struct {
	OptionName      string   `json:"option_name"`
	AvailableValues []string `json:"available_values"`
	Message         string   `json:"message"`
}

// NavigationResult is returned once per Navigator.Navigate invocation.
type NavigationResult struct {
	Success        bool
	Error          string
	Clarifications []Clarification
	AutoSelected   map[string]string
	TokensUsed     int
}

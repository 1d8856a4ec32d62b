package navigator

import "github.com/autoshop-tools/mitchell-agent-go/internal/reasoner"

const navigationSystemPrompt = `You are completing a vehicle selection in an automotive repair portal.
The Year, Make, Model, Engine and Submodel have already been selected.
Only the Options step remains. Pick option values that match the goal
vehicle. Use select_body_style and select_drive_type for structured
option groups, request_info when the goal does not disambiguate an
option, and confirm_vehicle once every required option is selected.
Respond with exactly one tool call.`

// ToolSchema describes the actions the reasoner may take during the Options
// step. One call is applied per step.
func ToolSchema() []reasoner.ToolSpec {
	return []reasoner.ToolSpec{
		{
			Name:        "select_year",
			Description: "Select a year in the vehicle selector.",
			Params: []reasoner.Param{
				{Name: "year", Type: "string", Description: "Four digit model year to click.", Required: true},
			},
		},
		{
			Name:        "select_make",
			Description: "Select a vehicle make in the vehicle selector.",
			Params: []reasoner.Param{
				{Name: "make", Type: "string", Description: "Make name exactly as listed.", Required: true},
			},
		},
		{
			Name:        "select_model",
			Description: "Select a vehicle model in the vehicle selector.",
			Params: []reasoner.Param{
				{Name: "model", Type: "string", Description: "Model name exactly as listed.", Required: true},
			},
		},
		{
			Name:        "select_engine",
			Description: "Select an engine in the vehicle selector.",
			Params: []reasoner.Param{
				{Name: "engine", Type: "string", Description: "Engine designation exactly as listed.", Required: true},
			},
		},
		{
			Name:        "select_submodel",
			Description: "Select a submodel or trim in the vehicle selector.",
			Params: []reasoner.Param{
				{Name: "submodel", Type: "string", Description: "Submodel name exactly as listed.", Required: true},
			},
		},
		{
			Name:        "select_body_style",
			Description: "Select a value in the Body Style option group.",
			Params: []reasoner.Param{
				{Name: "body_style", Type: "string", Description: "Body style value exactly as listed.", Required: true},
			},
		},
		{
			Name:        "select_drive_type",
			Description: "Select a value in the Drive Type option group.",
			Params: []reasoner.Param{
				{Name: "drive_type", Type: "string", Description: "Drive type value exactly as listed.", Required: true},
			},
		},
		{
			Name:        "request_info",
			Description: "Ask the requester to disambiguate an option the goal does not determine.",
			Params: []reasoner.Param{
				{Name: "option_name", Type: "string", Description: "Name of the ambiguous option.", Required: true},
				{Name: "available_values", Type: "array", Description: "Values currently offered for the option."},
				{Name: "message", Type: "string", Description: "Question to show the requester.", Required: true},
			},
		},
		{
			Name:        "confirm_vehicle",
			Description: "Click the confirm button to finish the vehicle selection.",
		},
		{
			Name:        "done",
			Description: "Report that the vehicle selection is already complete.",
		},
	}
}

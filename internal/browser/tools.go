package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/autoshop-tools/mitchell-agent-go/internal/humanize"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// toolSections maps a tool name to the portal navigation label its content
// lives behind. Matching against the quick links is case-insensitive
// substring, same as value matching in the selector.
var toolSections = map[string]string{
	types.ToolFluidCapacities:   "Fluid Capacities",
	types.ToolDTCInfo:           "Trouble Codes",
	types.ToolTorqueSpecs:       "Torque Specifications",
	types.ToolResetProcedure:    "Reset Procedures",
	types.ToolTSBList:           "Technical Service Bulletins",
	types.ToolADASCalibration:   "ADAS",
	types.ToolTireSpecs:         "Tire Fitment",
	types.ToolWiringDiagram:     "Wiring Diagrams",
	types.ToolSpecsProcedures:   "Specifications",
	types.ToolComponentLocation: "Component Locations",
	types.ToolComponentTests:    "Component Tests",
}

const contentSettleWait = 2 * time.Second

// LookupOutput is what one portal extraction produced. VehicleText is set
// only by plate and VIN lookups; callers parse it into structured fields.
type LookupOutput struct {
	Data        any
	Images      []string
	VehicleText string
}

// Lookup extracts tool content from an authenticated portal page.
type Lookup struct {
	page   *rod.Page
	sel    *selectors.Selectors
	timing *humanize.Timing
	mouse  *humanize.Mouse
	typist *humanize.Typist
}

// NewLookup wires a Lookup over the driver's page.
func NewLookup(page *rod.Page, sel *selectors.Selectors) *Lookup {
	timing := humanize.NewTiming()
	return &Lookup{
		page:   page,
		sel:    sel,
		timing: timing,
		mouse:  humanize.NewMouse(page, timing),
		typist: humanize.NewTypist(page, timing),
	}
}

// Run executes one tool against the portal. The vehicle must already be
// selected for section tools; plate and VIN lookups resolve their own.
func (l *Lookup) Run(ctx context.Context, tool string, params map[string]any) (*LookupOutput, error) {
	switch tool {
	case types.ToolLookupVehicle:
		return l.lookupVehicle(ctx, params)
	case types.ToolSearch, types.ToolQuery, types.ToolQueryAutonomous:
		return l.search(ctx, params)
	case types.ToolWiringDiagram:
		return l.wiringDiagram(ctx, params)
	default:
		section, ok := toolSections[tool]
		if !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownTool, tool)
		}
		return l.sectionContent(ctx, section)
	}
}

// sectionContent opens a navigation link and extracts the content region.
func (l *Lookup) sectionContent(ctx context.Context, section string) (*LookupOutput, error) {
	if err := l.openSection(ctx, section); err != nil {
		return nil, err
	}

	content, err := l.extractContent()
	if err != nil {
		return nil, err
	}
	content["section"] = section
	return &LookupOutput{Data: content}, nil
}

// openSection clicks the quick link whose text matches the section label.
func (l *Lookup) openSection(ctx context.Context, section string) error {
	wanted := strings.ToLower(section)
	for _, sel := range l.sel.Tools.QuickLinks {
		elements, err := l.page.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range elements {
			text, err := el.Text()
			if err != nil {
				continue
			}
			lower := strings.ToLower(strings.TrimSpace(text))
			if lower == "" {
				continue
			}
			if strings.Contains(lower, wanted) || strings.Contains(wanted, lower) {
				if err := l.mouse.ClickElement(ctx, el); err != nil {
					return fmt.Errorf("section %q click: %w", section, err)
				}
				humanize.SleepWithContext(ctx, contentSettleWait)
				return nil
			}
		}
	}
	return fmt.Errorf("section %q not found in portal navigation", section)
}

// extractContent pulls text and tables from the first matching content
// region in one DOM round trip.
func (l *Lookup) extractContent() (map[string]any, error) {
	js := `(regionSels, tableSel) => {
		let region = null;
		for (const sel of regionSels) {
			region = document.querySelector(sel);
			if (region) break;
		}
		if (!region) return null;

		const tables = [];
		for (const table of region.querySelectorAll('table')) {
			const rows = [];
			for (const tr of table.querySelectorAll('tr')) {
				const cells = [];
				for (const cell of tr.querySelectorAll('th, td')) {
					cells.push(cell.innerText.trim());
				}
				if (cells.length > 0) rows.push(cells);
			}
			if (rows.length > 0) tables.push(rows);
		}
		return { text: region.innerText.trim(), tables: tables };
	}`

	result, err := l.page.Eval(js, l.sel.Tools.ContentRegions, l.sel.Tools.ContentTables)
	if err != nil {
		return nil, fmt.Errorf("content extraction: %w", err)
	}
	if result.Value.Nil() {
		return nil, fmt.Errorf("no content region found")
	}
	return decodeContent(result.Value), nil
}

// decodeContent converts the Eval payload into the Result.Data shape.
func decodeContent(value gson.JSON) map[string]any {
	content := map[string]any{
		"text":   value.Get("text").Str(),
		"tables": [][]any{},
	}
	if tables := value.Get("tables"); !tables.Nil() {
		decoded := make([][]any, 0, len(tables.Arr()))
		for _, table := range tables.Arr() {
			rows := make([]any, 0, len(table.Arr()))
			for _, row := range table.Arr() {
				cells := make([]string, 0, len(row.Arr()))
				for _, cell := range row.Arr() {
					cells = append(cells, cell.Str())
				}
				rows = append(rows, cells)
			}
			decoded = append(decoded, rows)
		}
		content["tables"] = decoded
	}
	return content
}

// search types a free-text query into the portal search box.
func (l *Lookup) search(ctx context.Context, params map[string]any) (*LookupOutput, error) {
	query := stringParam(params, "query", "q", "question")
	if query == "" {
		return nil, fmt.Errorf("%w: query parameter required", types.ErrMissingField)
	}

	field := l.findFirst(l.sel.Tools.SearchInputs)
	if field == nil {
		return nil, fmt.Errorf("search input not found")
	}
	if err := l.typist.TypeInto(ctx, field, query); err != nil {
		return nil, fmt.Errorf("search query typing: %w", err)
	}

	if button := l.findFirst(l.sel.Tools.SearchButtons); button != nil {
		if err := l.mouse.ClickElement(ctx, button); err != nil {
			return nil, fmt.Errorf("search submit: %w", err)
		}
	} else if err := field.Type(input.Enter); err != nil {
		return nil, fmt.Errorf("search submit: %w", err)
	}
	humanize.SleepWithContext(ctx, contentSettleWait)

	content, err := l.extractContent()
	if err != nil {
		return nil, err
	}
	content["query"] = query
	return &LookupOutput{Data: content}, nil
}

// wiringDiagram captures the diagram view as an image next to the text.
func (l *Lookup) wiringDiagram(ctx context.Context, params map[string]any) (*LookupOutput, error) {
	out, err := l.sectionContent(ctx, toolSections[types.ToolWiringDiagram])
	if err != nil {
		return nil, err
	}

	shot, err := l.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Wiring diagram screenshot failed")
		return out, nil
	}
	out.Images = []string{base64.StdEncoding.EncodeToString(shot)}
	return out, nil
}

// lookupVehicle resolves a vehicle by plate and state or by VIN, returning
// the portal's banner text for the decoded vehicle.
func (l *Lookup) lookupVehicle(ctx context.Context, params map[string]any) (*LookupOutput, error) {
	plate := stringParam(params, "plate", "license_plate")
	state := stringParam(params, "state")
	vin := stringParam(params, "vin")
	if plate == "" && vin == "" {
		return nil, fmt.Errorf("%w: plate or vin parameter required", types.ErrMissingField)
	}

	field := l.findFirst(l.sel.Tools.PlateInputs)
	if field == nil {
		return nil, fmt.Errorf("plate lookup input not found")
	}

	value := plate
	if value == "" {
		value = vin
	}
	if err := l.typist.TypeInto(ctx, field, value); err != nil {
		return nil, fmt.Errorf("plate typing: %w", err)
	}

	if state != "" {
		if sel := l.findFirst(l.sel.Tools.PlateStateSelects); sel != nil {
			if err := sel.Select([]string{state}, true, rod.SelectorTypeText); err != nil {
				log.Warn().Str("state", state).Err(err).Msg("Plate state selection failed")
			}
		}
	}

	if button := l.findFirst(l.sel.Tools.PlateLookupButtons); button != nil {
		if err := l.mouse.ClickElement(ctx, button); err != nil {
			return nil, fmt.Errorf("plate lookup submit: %w", err)
		}
	} else if err := field.Type(input.Enter); err != nil {
		return nil, fmt.Errorf("plate lookup submit: %w", err)
	}
	humanize.SleepWithContext(ctx, contentSettleWait)

	banner := l.vehicleBannerText()
	if banner == "" {
		return nil, fmt.Errorf("vehicle lookup produced no vehicle")
	}

	return &LookupOutput{
		Data:        map[string]any{"vehicle": banner},
		VehicleText: banner,
	}, nil
}

// vehicleBannerText reads the currently selected vehicle display.
func (l *Lookup) vehicleBannerText() string {
	if el := l.findFirst(l.sel.Tools.VehicleBanners); el != nil {
		if text, err := el.Text(); err == nil {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func (l *Lookup) findFirst(sels []string) *rod.Element {
	for _, sel := range sels {
		has, el, err := l.page.Has(sel)
		if err == nil && has {
			return el
		}
	}
	return nil
}

// stringParam returns the first non-empty string value among keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

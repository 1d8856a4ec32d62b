package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/autoshop-tools/mitchell-agent-go/internal/humanize"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

const (
	selectorOpenAttempts = 3
	postClickDelay       = 500 * time.Millisecond
	listRefreshWait      = 5 * time.Second
	listRefreshPoll      = 500 * time.Millisecond
)

// OptionGroup is one structured group on the Options tab: a header, its
// candidate values, and the currently selected value if any.
type OptionGroup struct {
	Name     string
	Values   []string
	Selected string
}

// Portal drives the portal's tabbed vehicle selector on a live page. It is
// the page implementation the navigator operates through; tests use scripted
// fakes instead.
type Portal struct {
	page   *rod.Page
	sel    *selectors.Selectors
	timing *humanize.Timing
	mouse  *humanize.Mouse
}

// NewPortal wraps a connected page with the selector catalog.
func NewPortal(page *rod.Page, sel *selectors.Selectors) *Portal {
	timing := humanize.NewTiming()
	return &Portal{
		page:   page,
		sel:    sel,
		timing: timing,
		mouse:  humanize.NewMouse(page, timing),
	}
}

// OpenSelector runs the multi-step open sequence: click the selector button,
// expand the accordion if present, wait for the tab list. Retries up to
// three times, then resets the filter by clicking the Year tab.
func (p *Portal) OpenSelector(ctx context.Context) error {
	for attempt := 1; attempt <= selectorOpenAttempts; attempt++ {
		if open, _ := p.IsOpen(ctx); open {
			break
		}

		if btn := p.firstVisible(p.sel.VehicleSelector.OpenButtons); btn != nil {
			if err := p.mouse.ClickElement(ctx, btn); err != nil {
				log.Debug().Err(err).Int("attempt", attempt).Msg("Selector open click failed")
			}
		}
		if accordion := p.firstVisible(p.sel.VehicleSelector.AccordionHeaders); accordion != nil {
			_ = accordion.Click(proto.InputMouseButtonLeft, 1)
		}

		if p.waitForTabList(ctx) {
			break
		}
		if attempt == selectorOpenAttempts {
			return types.ErrSelectorNotOpen
		}
		if !humanize.SleepWithContext(ctx, time.Second) {
			return ctx.Err()
		}
	}

	// Reset the filter to the first category.
	if err := p.ClickTab(ctx, "Year"); err != nil {
		log.Debug().Err(err).Msg("Year tab reset failed after open")
	}
	return nil
}

// IsOpen reports whether the selector's tab list is present.
func (p *Portal) IsOpen(ctx context.Context) (bool, error) {
	for _, sel := range p.sel.VehicleSelector.TabList {
		if found, _, err := p.page.Has(sel); err == nil && found {
			return true, nil
		}
	}
	return false, nil
}

func (p *Portal) waitForTabList(ctx context.Context) bool {
	deadline := time.Now().Add(listRefreshWait)
	for time.Now().Before(deadline) {
		if open, _ := p.IsOpen(ctx); open {
			return true
		}
		if !humanize.SleepWithContext(ctx, listRefreshPoll) {
			return false
		}
	}
	return false
}

// ActiveTab returns the name of the active category tab, or ok=false when
// the selector is closed. Detection tries, in order, the known active class
// names, aria-selected, and finally the last enabled tab.
func (p *Portal) ActiveTab(ctx context.Context) (string, bool, error) {
	if open, _ := p.IsOpen(ctx); !open {
		return "", false, nil
	}

	tabs, err := p.tabElements()
	if err != nil || len(tabs) == 0 {
		return "", false, err
	}

	for _, class := range p.sel.VehicleSelector.ActiveTabClasses {
		for _, tab := range tabs {
			if p.hasClass(tab, class) {
				return p.elementText(tab), true, nil
			}
		}
	}

	for _, tab := range tabs {
		if val, err := tab.Attribute("aria-selected"); err == nil && val != nil && *val == "true" {
			return p.elementText(tab), true, nil
		}
	}

	// Fallback: the last tab that is not disabled.
	for i := len(tabs) - 1; i >= 0; i-- {
		if disabled, err := tabs[i].Attribute("disabled"); err == nil && disabled == nil {
			return p.elementText(tabs[i]), true, nil
		}
	}
	return "", false, nil
}

// ClickTab activates the category tab whose text matches name.
func (p *Portal) ClickTab(ctx context.Context, name string) error {
	tabs, err := p.tabElements()
	if err != nil {
		return err
	}
	lower := strings.ToLower(name)
	for _, tab := range tabs {
		if strings.ToLower(p.elementText(tab)) == lower {
			if err := p.mouse.ClickElement(ctx, tab); err != nil {
				return err
			}
			humanize.SleepWithContext(ctx, postClickDelay)
			return nil
		}
	}
	return fmt.Errorf("tab %q not found", name)
}

// Values returns the right-column value texts for the active tab.
func (p *Portal) Values(ctx context.Context) ([]string, error) {
	els := p.valueElements()
	values := make([]string, 0, len(els))
	for _, el := range els {
		if text := p.elementText(el); text != "" {
			values = append(values, text)
		}
	}
	return values, nil
}

// ClickValue clicks the right-column entry whose text equals value
// case-insensitively, falling back to substring containment. After the
// click it waits for the list to refresh.
func (p *Portal) ClickValue(ctx context.Context, value string) error {
	els := p.valueElements()
	lower := strings.ToLower(value)

	var match *rod.Element
	for _, el := range els {
		if strings.ToLower(p.elementText(el)) == lower {
			match = el
			break
		}
	}
	if match == nil {
		for _, el := range els {
			if strings.Contains(strings.ToLower(p.elementText(el)), lower) {
				match = el
				break
			}
		}
	}
	if match == nil {
		return fmt.Errorf("value %q not found in list", value)
	}

	before, _ := p.Values(ctx)
	if err := p.mouse.ClickElement(ctx, match); err != nil {
		return err
	}
	p.waitListRefresh(ctx, before)
	return nil
}

// waitListRefresh waits a short settle delay, then polls for the value list
// to change from its pre-click contents.
func (p *Portal) waitListRefresh(ctx context.Context, before []string) {
	humanize.SleepWithContext(ctx, postClickDelay)

	deadline := time.Now().Add(listRefreshWait)
	for time.Now().Before(deadline) {
		after, _ := p.Values(ctx)
		if !equalStrings(before, after) {
			return
		}
		if !humanize.SleepWithContext(ctx, listRefreshPoll) {
			return
		}
	}
}

// OptionGroups reads the structured option groups on the Options tab in one
// page evaluation. An empty slice means the tab presents a flat value list.
func (p *Portal) OptionGroups(ctx context.Context) ([]OptionGroup, error) {
	groupSel := strings.Join(p.sel.VehicleSelector.OptionGroups, ", ")
	headerSel := p.sel.VehicleSelector.OptionGroupHeader
	valueSel := p.sel.VehicleSelector.OptionGroupValues
	selectedClasses := p.sel.VehicleSelector.SelectedValueClasses

	res, err := p.page.Eval(`(groupSel, headerSel, valueSel, selectedClasses) => {
		const groups = [];
		for (const g of document.querySelectorAll(groupSel)) {
			const header = g.querySelector(headerSel);
			const name = header ? header.textContent.trim() : "";
			const values = [];
			let selected = "";
			for (const v of g.querySelectorAll(valueSel)) {
				const text = v.textContent.trim();
				if (!text) continue;
				values.push(text);
				for (const cls of selectedClasses) {
					if (v.classList.contains(cls)) { selected = text; break; }
				}
			}
			if (name || values.length) groups.push({name, values, selected});
		}
		return groups;
	}`, groupSel, headerSel, valueSel, selectedClasses)
	if err != nil {
		return nil, err
	}
	return decodeOptionGroups(res.Value), nil
}

// decodeOptionGroups converts the evaluation result into OptionGroup values.
func decodeOptionGroups(v gson.JSON) []OptionGroup {
	arr := v.Arr()
	groups := make([]OptionGroup, 0, len(arr))
	for _, g := range arr {
		group := OptionGroup{
			Name:     g.Get("name").Str(),
			Selected: g.Get("selected").Str(),
		}
		for _, val := range g.Get("values").Arr() {
			group.Values = append(group.Values, val.Str())
		}
		groups = append(groups, group)
	}
	return groups
}

// SelectedValues returns the texts of already-selected entries in the flat
// value list.
func (p *Portal) SelectedValues(ctx context.Context) ([]string, error) {
	els := p.valueElements()
	var selected []string
	for _, el := range els {
		for _, class := range p.sel.VehicleSelector.SelectedValueClasses {
			if p.hasClass(el, class) {
				selected = append(selected, p.elementText(el))
				break
			}
		}
	}
	return selected, nil
}

// ClickGroupValue clicks one value inside a named option group.
func (p *Portal) ClickGroupValue(ctx context.Context, group, value string) error {
	groupEl := p.findGroup(group)
	if groupEl == nil {
		return fmt.Errorf("option group %q not found", group)
	}

	els, err := groupEl.Elements(p.sel.VehicleSelector.OptionGroupValues)
	if err != nil {
		return err
	}
	lower := strings.ToLower(value)
	for _, el := range els {
		text := strings.ToLower(p.elementText(el))
		if text == lower || strings.Contains(text, lower) {
			if err := p.mouse.ClickElement(ctx, el); err != nil {
				return err
			}
			humanize.SleepWithContext(ctx, postClickDelay)
			return nil
		}
	}
	return fmt.Errorf("value %q not found in group %q", value, group)
}

func (p *Portal) findGroup(name string) *rod.Element {
	lower := strings.ToLower(name)
	for _, sel := range p.sel.VehicleSelector.OptionGroups {
		els, err := p.page.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			header, err := el.Element(p.sel.VehicleSelector.OptionGroupHeader)
			if err != nil {
				continue
			}
			if strings.ToLower(p.elementText(header)) == lower {
				return el
			}
		}
	}
	return nil
}

// ConfirmEnabled reports whether the confirm button is present and enabled.
func (p *Portal) ConfirmEnabled(ctx context.Context) (bool, error) {
	btn := p.firstVisible(p.sel.VehicleSelector.ConfirmButtons)
	if btn == nil {
		return false, nil
	}
	if disabled, err := btn.Attribute("disabled"); err == nil && disabled != nil {
		return false, nil
	}
	return true, nil
}

// ClickConfirm clicks the confirm ("Use This Vehicle") button.
func (p *Portal) ClickConfirm(ctx context.Context) error {
	btn := p.firstVisible(p.sel.VehicleSelector.ConfirmButtons)
	if btn == nil {
		return fmt.Errorf("confirm button not found")
	}
	if err := p.mouse.ClickElement(ctx, btn); err != nil {
		return err
	}
	humanize.SleepWithContext(ctx, postClickDelay)
	return nil
}

// ClickCancel closes the selector without confirming.
func (p *Portal) ClickCancel(ctx context.Context) error {
	btn := p.firstVisible(p.sel.VehicleSelector.CancelButtons)
	if btn == nil {
		return nil
	}
	return btn.Click(proto.InputMouseButtonLeft, 1)
}

// Screenshot captures the viewport as PNG for vision-capable reasoners.
func (p *Portal) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *Portal) tabElements() ([]*rod.Element, error) {
	for _, sel := range p.sel.VehicleSelector.Tabs {
		els, err := p.page.Elements(sel)
		if err == nil && len(els) > 0 {
			return els, nil
		}
	}
	return nil, nil
}

func (p *Portal) valueElements() []*rod.Element {
	for _, sel := range p.sel.VehicleSelector.ValueList {
		els, err := p.page.Elements(sel)
		if err == nil && len(els) > 0 {
			return els
		}
	}
	return nil
}

func (p *Portal) firstVisible(sels []string) *rod.Element {
	for _, sel := range sels {
		found, el, err := p.page.Has(sel)
		if err != nil || !found {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return el
		}
	}
	return nil
}

func (p *Portal) hasClass(el *rod.Element, class string) bool {
	attr, err := el.Attribute("class")
	if err != nil || attr == nil {
		return false
	}
	for _, c := range strings.Fields(*attr) {
		if c == class {
			return true
		}
	}
	return false
}

func (p *Portal) elementText(el *rod.Element) string {
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

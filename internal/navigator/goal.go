// Package navigator drives the portal's vehicle-selection UI to a specific
// vehicle described by a free-text goal. Phase 1 selects Year through
// Submodel deterministically; Phase 2 resolves the Options tab, falling back
// to a reasoner decision when no deterministic match exists.
package navigator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VehicleGoal is the parsed form of a free-text vehicle description.
type VehicleGoal struct {
	Year      int
	Make      string
	Model     string
	Engine    string
	Submodel  string
	BodyStyle string
	DriveType string
	Raw       string
}

// canonicalMakes is the fixed list matched during parsing. Two-word makes
// appear before their first word could be mistaken for a model.
var canonicalMakes = []string{
	"Alfa Romeo", "Aston Martin", "Land Rover", "Mercedes-Benz",
	"Acura", "Audi", "BMW", "Buick", "Cadillac", "Chevrolet", "Chrysler",
	"Dodge", "Fiat", "Ford", "Genesis", "GMC", "Honda", "Hyundai",
	"Infiniti", "Jaguar", "Jeep", "Kia", "Lexus", "Lincoln", "Mazda",
	"Mini", "Mitsubishi", "Nissan", "Polestar", "Porsche", "Ram",
	"Rivian", "Subaru", "Suzuki", "Tesla", "Toyota", "Volkswagen", "Volvo",
}

// makeAliases maps common shorthand to the canonical make.
var makeAliases = map[string]string{
	"chevy":    "Chevrolet",
	"vw":       "Volkswagen",
	"mercedes": "Mercedes-Benz",
	"benz":     "Mercedes-Benz",
	"landrover": "Land Rover",
	"alfa":     "Alfa Romeo",
}

var (
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	driveTypeRe = regexp.MustCompile(`(?i)\b(4WD|AWD|RWD|FWD|2WD|4x4)\b`)
	bodyStyleRe = regexp.MustCompile(`(?i)\b(\d+D (?:Pickup|Sedan|Coupe|Hatchback|Wagon|SUV|Van|Convertible)|(?:Crew|Extended|Double|Regular|Extra) Cab)\b`)
	engineRe    = regexp.MustCompile(`(?i)\b(\d+\.\d+L?(?: ?V\d+)?)\b`)
)

// ParseGoal extracts a VehicleGoal from free text such as
// "2018 Ford F-150 5.0L XLT 4D Pickup 4WD".
func ParseGoal(goal string) *VehicleGoal {
	g := &VehicleGoal{Raw: strings.TrimSpace(goal)}
	remaining := g.Raw

	// Year: first 4-digit number in range.
	if m := yearRe.FindString(remaining); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			g.Year = y
			remaining = removeOnce(remaining, m)
		}
	}

	// Drive type: canonical uppercase, 4x4 folds into 4WD.
	if m := driveTypeRe.FindString(remaining); m != "" {
		dt := strings.ToUpper(m)
		if dt == "4X4" {
			dt = "4WD"
		}
		g.DriveType = dt
		remaining = removeOnce(remaining, m)
	}

	// Body style before engine so "4D Pickup" does not lose its digit.
	if m := bodyStyleRe.FindString(remaining); m != "" {
		g.BodyStyle = m
		remaining = removeOnce(remaining, m)
	}

	if m := engineRe.FindString(remaining); m != "" {
		g.Engine = m
		remaining = removeOnce(remaining, m)
	}

	// Make: alias map first, then the canonical list.
	tokens := strings.Fields(remaining)
	makeIdx := -1
	for i, tok := range tokens {
		if canonical, ok := makeAliases[strings.ToLower(tok)]; ok {
			g.Make = canonical
			makeIdx = i
			break
		}
	}
	if makeIdx < 0 {
		for _, mk := range canonicalMakes {
			mkTokens := strings.Fields(mk)
			if idx := findTokenRun(tokens, mkTokens); idx >= 0 {
				g.Make = mk
				makeIdx = idx
				// Collapse a multi-word make to one consumed slot.
				if len(mkTokens) > 1 {
					tokens = append(tokens[:idx+1], tokens[idx+len(mkTokens):]...)
					tokens[idx] = mk
				}
				break
			}
		}
	}

	// Model: first token after the make; the rest is the submodel candidate.
	if makeIdx >= 0 && makeIdx+1 < len(tokens) {
		g.Model = tokens[makeIdx+1]
		if makeIdx+2 < len(tokens) {
			g.Submodel = strings.Join(tokens[makeIdx+2:], " ")
		}
	} else if makeIdx < 0 && len(tokens) > 0 {
		// No recognizable make: treat the first token as the model so the
		// error message can still name what was asked for.
		g.Model = tokens[0]
		if len(tokens) > 1 {
			g.Submodel = strings.Join(tokens[1:], " ")
		}
	}

	return g
}

// Join renders the goal back to text in the fixed field order. Parsing the
// result yields an equivalent VehicleGoal.
func (g *VehicleGoal) Join() string {
	parts := make([]string, 0, 7)
	if g.Year != 0 {
		parts = append(parts, strconv.Itoa(g.Year))
	}
	for _, s := range []string{g.Make, g.Model, g.Engine, g.Submodel, g.BodyStyle, g.DriveType} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// MissingRequired returns the first of year, make, model that is absent, or
// empty when all are present.
func (g *VehicleGoal) MissingRequired() string {
	if g.Year == 0 {
		return "year"
	}
	if g.Make == "" {
		return "make"
	}
	if g.Model == "" {
		return "model"
	}
	return ""
}

func (g *VehicleGoal) String() string {
	return fmt.Sprintf("year=%d make=%q model=%q engine=%q submodel=%q body=%q drive=%q",
		g.Year, g.Make, g.Model, g.Engine, g.Submodel, g.BodyStyle, g.DriveType)
}

// removeOnce deletes the first occurrence of sub and tidies whitespace.
func removeOnce(s, sub string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(sub))
	if idx < 0 {
		return s
	}
	out := s[:idx] + s[idx+len(sub):]
	return strings.Join(strings.Fields(out), " ")
}

// findTokenRun returns the index where the needle token sequence appears in
// tokens, matching case-insensitively, or -1.
func findTokenRun(tokens, needle []string) int {
	if len(needle) == 0 || len(needle) > len(tokens) {
		return -1
	}
	for i := 0; i+len(needle) <= len(tokens); i++ {
		match := true
		for j, n := range needle {
			if !strings.EqualFold(tokens[i+j], n) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Package selectors provides the portal affordance catalog.
// The portal's DOM is treated as an opaque capability surface: every
// affordance the agent acts on (login form, selector tabs, option groups,
// confirm and cancel buttons, logout link) is resolved through an ordered
// fallback list of selectors loaded from an embedded YAML catalog.
package selectors

import (
	"embed"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Login contains selectors for the portal's authentication surfaces.
type Login struct {
	UsernameInputs          []string `yaml:"username_inputs"`
	PasswordInputs          []string `yaml:"password_inputs"`
	SubmitButtons           []string `yaml:"submit_buttons"`
	LoggedInSentinels       []string `yaml:"logged_in_sentinels"`
	LicensePageMarkers      []string `yaml:"license_page_markers"`
	SessionCommitCheckboxes []string `yaml:"session_commit_checkboxes"`
	SessionCommitButtons    []string `yaml:"session_commit_buttons"`
	AutoLoginURLMarker      string   `yaml:"auto_login_url_marker"`
	LoginURLMarkers         []string `yaml:"login_url_markers"`
}

// Logout contains selectors for ending a portal session.
type Logout struct {
	Affordances      []string `yaml:"affordances"`
	ConfirmLoginForm []string `yaml:"confirm_login_form"`
}

// Modals contains selectors for dismissing dialogs that block interaction.
type Modals struct {
	CloseSequence  []string `yaml:"close_sequence"`
	ConsentBanners []string `yaml:"consent_banners"`
}

// VehicleSelector contains selectors for the tabbed vehicle-selection UI.
type VehicleSelector struct {
	OpenButtons          []string `yaml:"open_buttons"`
	AccordionHeaders     []string `yaml:"accordion_headers"`
	TabList              []string `yaml:"tab_list"`
	Tabs                 []string `yaml:"tabs"`
	ActiveTabClasses     []string `yaml:"active_tab_classes"`
	ValueList            []string `yaml:"value_list"`
	OptionGroups         []string `yaml:"option_groups"`
	OptionGroupHeader    string   `yaml:"option_group_header"`
	OptionGroupValues    string   `yaml:"option_group_values"`
	SelectedValueClasses []string `yaml:"selected_value_classes"`
	ConfirmButtons       []string `yaml:"confirm_buttons"`
	CancelButtons        []string `yaml:"cancel_buttons"`
}

// Tools contains selectors for the lookup surfaces the dispatch table
// drives after a vehicle is selected.
type Tools struct {
	QuickLinks         []string `yaml:"quick_links"`
	ContentRegions     []string `yaml:"content_regions"`
	ContentTables      []string `yaml:"content_tables"`
	SearchInputs       []string `yaml:"search_inputs"`
	SearchButtons      []string `yaml:"search_buttons"`
	PlateInputs        []string `yaml:"plate_inputs"`
	PlateStateSelects  []string `yaml:"plate_state_selects"`
	PlateLookupButtons []string `yaml:"plate_lookup_buttons"`
	VehicleBanners     []string `yaml:"vehicle_banners"`
}

// Selectors is the full affordance catalog.
type Selectors struct {
	Login           Login           `yaml:"login"`
	Logout          Logout          `yaml:"logout"`
	Modals          Modals          `yaml:"modals"`
	VehicleSelector VehicleSelector `yaml:"vehicle_selector"`
	Tools           Tools           `yaml:"tools"`
}

var (
	instance *Selectors
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Selectors instance loaded from the embedded
// catalog. Use Manager for hot-reloadable external overrides.
func Get() *Selectors {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load selectors, using defaults")
			instance = defaults()
		}
	})
	return instance
}

// load reads the catalog from the embedded YAML file.
func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a selectors catalog from YAML bytes.
func Parse(data []byte) (*Selectors, error) {
	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	log.Debug().
		Int("login_sentinels", len(s.Login.LoggedInSentinels)).
		Int("modal_closers", len(s.Modals.CloseSequence)).
		Int("selector_tabs", len(s.VehicleSelector.Tabs)).
		Msg("Selectors loaded")

	return &s, nil
}

// defaults returns a hardcoded minimal catalog used when the embedded file
// cannot be parsed. The lists are shorter than the shipped catalog but cover
// every affordance the agent needs to make progress.
func defaults() *Selectors {
	return &Selectors{
		Login: Login{
			UsernameInputs:     []string{"#username", "input[name='username']"},
			PasswordInputs:     []string{"#password", "input[type='password']"},
			SubmitButtons:      []string{"button[type='submit']"},
			LoggedInSentinels:  []string{"#vehicleSelectorButton"},
			LicensePageMarkers: []string{"#licenseManager"},
			AutoLoginURLMarker: "autologin",
			LoginURLMarkers:    []string{"login", "signin"},
		},
		Logout: Logout{
			Affordances:      []string{"a[href*='logout']"},
			ConfirmLoginForm: []string{"input[type='password']"},
		},
		Modals: Modals{
			CloseSequence: []string{"button.cancel", ".close", "[aria-label='Close']"},
		},
		VehicleSelector: VehicleSelector{
			OpenButtons:          []string{"#vehicleSelectorButton"},
			Tabs:                 []string{".vehicle-tabs li"},
			ActiveTabClasses:     []string{"selected", "active", "current"},
			ValueList:            []string{".vehicle-values li"},
			OptionGroups:         []string{".option-group"},
			OptionGroupHeader:    ".group-header",
			OptionGroupValues:    ".group-values li",
			SelectedValueClasses: []string{"selected"},
			ConfirmButtons:       []string{"#useThisVehicle"},
			CancelButtons:        []string{"#vehicleSelectorCancel"},
		},
		Tools: Tools{
			QuickLinks:         []string{"#quickLinks a", ".nav-tabs a"},
			ContentRegions:     []string{"#contentArea", ".content-pane"},
			ContentTables:      []string{"#contentArea table"},
			SearchInputs:       []string{"#searchInput"},
			SearchButtons:      []string{"#searchButton"},
			PlateInputs:        []string{"#plateNumber"},
			PlateStateSelects:  []string{"#plateState"},
			PlateLookupButtons: []string{"#plateLookup"},
			VehicleBanners:     []string{".vehicle-display"},
		},
	}
}

// Package browser owns the real browser process behind each worker: process
// launch or attach on a dedicated debugging port, portal login and logout,
// and the page-level primitives the navigator drives.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/humanize"
	"github.com/autoshop-tools/mitchell-agent-go/internal/security"
	"github.com/autoshop-tools/mitchell-agent-go/internal/selectors"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

const (
	storageStateFile = "storage_state.json"
	autoLoginWait    = 15 * time.Second
	loginWait        = 20 * time.Second
	probeTimeout     = 2 * time.Second
)

// Driver owns one browser process with remote debugging enabled on a
// dedicated port and an exclusive profile directory. It exposes a single
// current page and performs portal login and logout.
//
// A Driver is never shared between workers.
type Driver struct {
	cfg        *config.Config
	sel        *selectors.Selectors
	workerID   int
	port       int
	profileDir string

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	spawned  bool

	timing *humanize.Timing
}

// NewDriver creates a driver bound to a debugging port and profile directory.
// Nothing is launched until Connect.
func NewDriver(cfg *config.Config, sel *selectors.Selectors, workerID, port int, profileDir string) *Driver {
	return &Driver{
		cfg:        cfg,
		sel:        sel,
		workerID:   workerID,
		port:       port,
		profileDir: profileDir,
		timing:     humanize.NewTiming(),
	}
}

// Page returns the driver's current page. Nil before Connect.
func (d *Driver) Page() *rod.Page {
	return d.page
}

// Connect attaches to a browser already listening on the driver's port, or
// spawns a new process, then navigates to the portal and establishes a
// logged-in session. A license-manager landing fails with ErrSessionLimit
// without touching the login form.
func (d *Driver) Connect(ctx context.Context) error {
	if err := d.attachOrSpawn(ctx); err != nil {
		return err
	}

	if err := d.openPortal(ctx); err != nil {
		d.Disconnect()
		return err
	}

	d.dismissConsentBanner(ctx)

	switch d.landingState(ctx) {
	case landingLoggedIn:
		log.Info().Int("worker_id", d.workerID).Msg("Portal session already established")
		return nil
	case landingSessionLimit:
		return types.ErrSessionLimit
	case landingLoginForm:
		return d.login(ctx)
	default:
		// Unknown landing: the portal sometimes lands on an interstitial
		// that redirects to login. Give it one settle period and retry.
		humanize.SleepWithContext(ctx, 2*time.Second)
		if d.landingState(ctx) == landingLoggedIn {
			return nil
		}
		return d.login(ctx)
	}
}

// attachOrSpawn connects to an existing browser on the port if one is
// listening, otherwise launches a fresh process with the worker's profile.
func (d *Driver) attachOrSpawn(ctx context.Context) error {
	hostPort := fmt.Sprintf("127.0.0.1:%d", d.port)

	if wsURL, err := launcher.ResolveURL(hostPort); err == nil {
		log.Debug().
			Int("worker_id", d.workerID).
			Int("port", d.port).
			Msg("Attaching to existing browser process")

		b := rod.New().ControlURL(wsURL)
		if err := b.Connect(); err != nil {
			return fmt.Errorf("%w: attach on port %d: %v", types.ErrConnectionFailed, d.port, err)
		}
		d.browser = b
		d.spawned = false
		return nil
	}

	log.Debug().
		Int("worker_id", d.workerID).
		Int("port", d.port).
		Str("profile", d.profileDir).
		Msg("Spawning browser process")

	if err := os.MkdirAll(d.profileDir, 0o700); err != nil {
		return fmt.Errorf("%w: profile dir: %v", types.ErrConnectionFailed, err)
	}

	l := d.createLauncher()
	wsURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: launch: %v", types.ErrConnectionFailed, err)
	}
	d.launcher = l

	b := rod.New().ControlURL(wsURL)
	connectCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	if err := b.Context(connectCtx).Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("%w: connect: %v", types.ErrConnectionFailed, err)
	}
	d.browser = b
	d.spawned = true
	return nil
}

// createLauncher builds the launch flags. The profile directory and port are
// exclusive to this worker; the remaining flags disable first-run prompts and
// background networking and keep the browser looking like a desktop install.
func (d *Driver) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if d.cfg.BrowserPath != "" {
		l = l.Bin(d.cfg.BrowserPath)
	}

	if d.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("remote-debugging-port", strconv.Itoa(d.port)).
		UserDataDir(d.profileDir)

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-sync").
		Set("mute-audio").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("window-size", "1920,1080")

	return l
}

// openPortal selects one page, applies stealth patches, and navigates to the
// portal's main URL.
func (d *Driver) openPortal(ctx context.Context) error {
	page, err := stealth.Page(d.browser)
	if err != nil {
		return fmt.Errorf("%w: create page: %v", types.ErrConnectionFailed, err)
	}
	d.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport")
	}

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(d.cfg.PortalURL); err != nil {
		return fmt.Errorf("%w: navigate: %v", types.ErrConnectionFailed, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn().Err(err).Msg("Portal load wait failed, continuing")
	}
	return nil
}

type landing int

const (
	landingUnknown landing = iota
	landingLoggedIn
	landingLoginForm
	landingSessionLimit
)

// landingState classifies the page after navigating to the portal.
func (d *Driver) landingState(ctx context.Context) landing {
	if d.hasAny(d.sel.Login.LicensePageMarkers) {
		return landingSessionLimit
	}
	if d.hasAny(d.sel.Login.LoggedInSentinels) {
		return landingLoggedIn
	}
	if d.hasAny(d.sel.Login.PasswordInputs) || d.urlMatchesLogin() {
		return landingLoginForm
	}
	return landingUnknown
}

// login authenticates against the portal. Auto-login redirects are waited
// out; otherwise credentials are typed with human-like pacing.
func (d *Driver) login(ctx context.Context) error {
	url := d.currentURL()

	if d.sel.Login.AutoLoginURLMarker != "" && strings.Contains(url, d.sel.Login.AutoLoginURLMarker) {
		log.Info().Int("worker_id", d.workerID).Msg("Auto-login in progress, waiting for redirect")
		if d.waitURLLeavesLogin(ctx, autoLoginWait) {
			return nil
		}
		return fmt.Errorf("%w: auto-login redirect timed out", types.ErrLoginFailed)
	}

	if d.cfg.Username == "" || d.cfg.Password == "" {
		return fmt.Errorf("%w: no credentials configured", types.ErrLoginFailed)
	}

	log.Info().
		Int("worker_id", d.workerID).
		Str("username", security.RedactCredential(d.cfg.Username)).
		Msg("Logging in to portal")

	userEl := d.findFirst(d.sel.Login.UsernameInputs)
	if userEl == nil {
		userEl = d.findInputByHint("user")
	}
	passEl := d.findFirst(d.sel.Login.PasswordInputs)
	if userEl == nil || passEl == nil {
		return fmt.Errorf("%w: login form not found", types.ErrLoginFailed)
	}

	typist := humanize.NewTypist(d.page, d.timing)
	if err := typist.TypeInto(ctx, userEl, d.cfg.Username); err != nil {
		return fmt.Errorf("%w: typing username: %v", types.ErrLoginFailed, err)
	}
	if err := typist.FieldTransition(ctx); err != nil {
		return err
	}
	if err := typist.TypeInto(ctx, passEl, d.cfg.Password); err != nil {
		return fmt.Errorf("%w: typing password: %v", types.ErrLoginFailed, err)
	}

	if submit := d.findFirst(d.sel.Login.SubmitButtons); submit != nil {
		if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Warn().Err(err).Msg("Submit click failed, pressing Enter instead")
			_ = passEl.Type(input.Enter)
		}
	} else {
		_ = passEl.Type(input.Enter)
	}

	if !d.waitURLLeavesLogin(ctx, loginWait) {
		if d.hasAny(d.sel.Login.LicensePageMarkers) {
			return types.ErrSessionLimit
		}
		return fmt.Errorf("%w: still on login page after submit", types.ErrLoginFailed)
	}

	d.commitActiveSessions(ctx)

	log.Info().Int("worker_id", d.workerID).Msg("Portal login complete")
	return nil
}

// commitActiveSessions handles the post-login "active sessions" dialog by
// ticking every listed session and clicking the commit button.
func (d *Driver) commitActiveSessions(ctx context.Context) {
	boxes := d.findAll(d.sel.Login.SessionCommitCheckboxes)
	if len(boxes) == 0 {
		return
	}

	log.Debug().Int("sessions", len(boxes)).Msg("Committing active portal sessions")
	for _, box := range boxes {
		checked, err := box.Property("checked")
		if err == nil && checked.Bool() {
			continue
		}
		if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Warn().Err(err).Msg("Failed to tick session checkbox")
		}
		humanize.SleepWithContext(ctx, d.timing.PreActionDelay())
	}

	if commit := d.findFirst(d.sel.Login.SessionCommitButtons); commit != nil {
		if err := commit.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Warn().Err(err).Msg("Failed to click session commit button")
		}
		humanize.SleepWithContext(ctx, d.timing.SettleDelay())
	}
}

// Logout closes open modals, clicks the logout affordance, and verifies the
// session ended.
func (d *Driver) Logout(ctx context.Context) error {
	if d.page == nil {
		return nil
	}

	d.CloseModals(ctx)

	affordance := d.findFirst(d.sel.Logout.Affordances)
	if affordance == nil {
		// Absence of the affordance counts as logged out.
		log.Debug().Int("worker_id", d.workerID).Msg("No logout affordance present, treating as logged out")
		return nil
	}
	if err := affordance.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: click: %v", types.ErrLogoutFailed, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if d.hasAny(d.sel.Logout.ConfirmLoginForm) || d.urlMatchesLogin() || !d.hasAny(d.sel.Logout.Affordances) {
			log.Info().Int("worker_id", d.workerID).Msg("Portal logout complete")
			return nil
		}
		if !humanize.SleepWithContext(ctx, 500*time.Millisecond) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: logout not confirmed", types.ErrLogoutFailed)
}

// EnsureCleanState attaches to any existing browser at startup and, if a
// logged-in session is found, logs out so the first real request starts
// fresh. A port with no listener is fine.
func (d *Driver) EnsureCleanState(ctx context.Context) error {
	hostPort := fmt.Sprintf("127.0.0.1:%d", d.port)
	wsURL, err := launcher.ResolveURL(hostPort)
	if err != nil {
		return nil
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil
	}
	d.browser = b
	d.spawned = false

	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return nil
	}
	d.page = pages.First()

	if d.hasAny(d.sel.Login.LoggedInSentinels) {
		log.Info().Int("worker_id", d.workerID).Msg("Stale portal session found at startup, logging out")
		return d.Logout(ctx)
	}
	return nil
}

// Disconnect persists cookie state, closes the page and browser, and kills
// the child process if this driver spawned it. Safe to call repeatedly.
func (d *Driver) Disconnect() {
	if d.browser == nil {
		return
	}

	d.persistStorageState()

	if d.page != nil {
		if err := d.page.Close(); err != nil {
			log.Debug().Err(err).Msg("Page close failed during disconnect")
		}
		d.page = nil
	}

	if err := d.browser.Close(); err != nil {
		log.Debug().Err(err).Msg("Browser close failed during disconnect")
	}
	d.browser = nil

	if d.spawned && d.launcher != nil {
		d.launcher.Kill()
		d.launcher = nil
	}
}

// persistStorageState writes the browser's cookies to the profile directory
// so a restarted agent can reuse the session.
func (d *Driver) persistStorageState() {
	cookies, err := d.browser.GetCookies()
	if err != nil || len(cookies) == 0 {
		return
	}

	data, err := json.Marshal(map[string]any{"cookies": cookies})
	if err != nil {
		return
	}

	path := filepath.Join(d.profileDir, storageStateFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Failed to persist storage state")
		return
	}
	log.Debug().Int("cookies", len(cookies)).Str("path", path).Msg("Storage state persisted")
}

// dismissConsentBanner clicks a first-visit consent banner if one is shown.
func (d *Driver) dismissConsentBanner(ctx context.Context) {
	if banner := d.findFirst(d.sel.Modals.ConsentBanners); banner != nil {
		log.Debug().Msg("Dismissing consent banner")
		if err := banner.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Debug().Err(err).Msg("Consent banner click failed")
		}
		humanize.SleepWithContext(ctx, d.timing.SettleDelay())
	}
}

// CloseModals dismisses any dialogs blocking interaction. It walks the
// catalog's close sequence, then discovers small elements whose class
// mentions close.
func (d *Driver) CloseModals(ctx context.Context) {
	for _, sel := range d.sel.Modals.CloseSequence {
		found, el, err := d.page.Has(sel)
		if err != nil || !found {
			continue
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			log.Debug().Str("selector", sel).Msg("Closed modal")
			humanize.SleepWithContext(ctx, d.timing.SettleDelay())
		}
	}

	// Dynamic fallback: small visible elements styled as close buttons.
	_, err := d.page.Eval(`() => {
		let clicked = 0;
		for (const el of document.querySelectorAll("[class*='close']")) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.width < 60 && r.height > 0 && r.height < 60) {
				el.click();
				clicked++;
			}
		}
		return clicked;
	}`)
	if err != nil {
		log.Debug().Err(err).Msg("Dynamic modal close sweep failed")
	}
}

// hasAny reports whether any selector in the list matches the current page.
func (d *Driver) hasAny(sels []string) bool {
	if d.page == nil {
		return false
	}
	for _, sel := range sels {
		if found, _, err := d.page.Has(sel); err == nil && found {
			return true
		}
	}
	return false
}

// findFirst returns the first visible element matched by the fallback chain.
func (d *Driver) findFirst(sels []string) *rod.Element {
	if d.page == nil {
		return nil
	}
	for _, sel := range sels {
		found, el, err := d.page.Has(sel)
		if err != nil || !found {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return el
		}
	}
	return nil
}

// findAll returns every element matched by the first selector in the chain
// that matches anything.
func (d *Driver) findAll(sels []string) []*rod.Element {
	if d.page == nil {
		return nil
	}
	for _, sel := range sels {
		els, err := d.page.Elements(sel)
		if err != nil || len(els) == 0 {
			continue
		}
		return els
	}
	return nil
}

// findInputByHint is the heuristic fallback for login inputs: any visible
// text input whose placeholder or aria-label contains the hint.
func (d *Driver) findInputByHint(hint string) *rod.Element {
	els, err := d.page.Elements("input[type='text'], input:not([type])")
	if err != nil {
		return nil
	}
	hint = strings.ToLower(hint)
	for _, el := range els {
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		for _, attr := range []string{"placeholder", "aria-label", "name", "id"} {
			val, err := el.Attribute(attr)
			if err != nil || val == nil {
				continue
			}
			if strings.Contains(strings.ToLower(*val), hint) {
				return el
			}
		}
	}
	return nil
}

func (d *Driver) currentURL() string {
	if d.page == nil {
		return ""
	}
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *Driver) urlMatchesLogin() bool {
	url := strings.ToLower(d.currentURL())
	for _, marker := range d.sel.Login.LoginURLMarkers {
		if strings.Contains(url, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// waitURLLeavesLogin polls until the page URL no longer matches any login
// marker, up to the given wait.
func (d *Driver) waitURLLeavesLogin(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		onAutoLogin := d.sel.Login.AutoLoginURLMarker != "" &&
			strings.Contains(d.currentURL(), d.sel.Login.AutoLoginURLMarker)
		if !d.urlMatchesLogin() && !onAutoLogin {
			return true
		}
		if !humanize.SleepWithContext(ctx, 500*time.Millisecond) {
			return false
		}
	}
	return false
}

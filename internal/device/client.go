// Package device wraps the WebDriver/Appium automation session behind
// a narrow, typed surface. The crawl loop serializes all calls; the
// client makes no concurrency guarantees of its own.
package device

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// SessionState tracks the automation session lifecycle.
type SessionState int

const (
	Uninitialized SessionState = iota
	Connected
	Running
	Recovering
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Connected:
		return "CONNECTED"
	case Running:
		return "RUNNING"
	case Recovering:
		return "RECOVERING"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Box is an on-screen bounding box in pixels.
type Box struct {
	TopLeft     [2]int `json:"top_left"`
	BottomRight [2]int `json:"bottom_right"`
}

// Center returns the box midpoint.
func (b Box) Center() (int, int) {
	return (b.TopLeft[0] + b.BottomRight[0]) / 2, (b.TopLeft[1] + b.BottomRight[1]) / 2
}

// TapTarget selects what to tap. Priority: coordinates, then box,
// then identifier.
type TapTarget struct {
	ID   string
	Box  *Box
	X, Y *int
}

// Config configures a device client.
type Config struct {
	ServerURL      string
	DeviceID       string // empty = let the server auto-detect
	AppPackage     string
	AppActivity    string
	ImplicitWaitMS int
	RequestTimeout time.Duration
	MaxRetries     int // session recovery attempts

	// LongPressMS is the default duration when an action omits one.
	LongPressMS int
}

// Client owns the remote automation session.
type Client struct {
	cfg      Config
	wire     *wireClient
	state    SessionState
	lastCaps map[string]interface{}

	screenW, screenH int
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.LongPressMS <= 0 {
		cfg.LongPressMS = 1000
	}
	return &Client{
		cfg:  cfg,
		wire: newWireClient(cfg.ServerURL, cfg.RequestTimeout),
	}
}

// State returns the session state.
func (c *Client) State() SessionState { return c.state }

// DeviceID returns the configured or auto-detected device identifier.
func (c *Client) DeviceID() string {
	if c.cfg.DeviceID != "" {
		return c.cfg.DeviceID
	}
	return "auto"
}

// InitializeSession establishes the automation session. Idempotent:
// an already-connected client returns immediately.
func (c *Client) InitializeSession(ctx context.Context) error {
	if c.state == Connected || c.state == Running {
		return nil
	}

	caps := map[string]interface{}{
		"platformName":               "Android",
		"appium:automationName":      "UiAutomator2",
		"appium:appPackage":          c.cfg.AppPackage,
		"appium:appActivity":         c.cfg.AppActivity,
		"appium:noReset":             true,
		"appium:autoGrantPermissions": true,
		"appium:newCommandTimeout":   300,
	}
	if c.cfg.DeviceID != "" {
		caps["appium:udid"] = c.cfg.DeviceID
	}

	if err := c.wire.newSession(ctx, caps); err != nil {
		c.state = Uninitialized
		return fmt.Errorf("initialize session: %w", err)
	}
	c.lastCaps = caps
	c.state = Connected

	if c.cfg.ImplicitWaitMS > 0 {
		_, err := c.wire.session(ctx, http.MethodPost, "/timeouts", map[string]interface{}{
			"implicit": c.cfg.ImplicitWaitMS,
		})
		if err != nil {
			slog.Warn("device: set implicit wait failed", "error", err)
		}
	}

	c.cacheWindowRect(ctx)
	c.state = Running
	slog.Info("device: session established",
		"server", c.cfg.ServerURL, "device", c.DeviceID(), "app", c.cfg.AppPackage)
	return nil
}

func (c *Client) cacheWindowRect(ctx context.Context) {
	value, err := c.wire.session(ctx, http.MethodGet, "/window/rect", nil)
	if err != nil {
		// Portrait phone fallback; gestures still land on-screen.
		c.screenW, c.screenH = 1080, 1920
		return
	}
	var rect struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if json.Unmarshal(value, &rect) == nil && rect.Width > 0 {
		c.screenW, c.screenH = rect.Width, rect.Height
	} else {
		c.screenW, c.screenH = 1080, 1920
	}
}

// ValidateSession probes the session and recovers it when the probe
// reports the session gone. Returns nil when the session is usable.
func (c *Client) ValidateSession(ctx context.Context) error {
	if c.state == Closed {
		return ErrSessionNotFound
	}
	_, err := c.wire.session(ctx, http.MethodGet, "/source", nil)
	if err == nil {
		return nil
	}
	if !isGone(err) {
		// Transient failure; the session itself may still be fine.
		slog.Debug("device: probe failed", "error", err)
		return nil
	}
	return c.recoverSession(ctx)
}

func isGone(err error) bool {
	return err != nil && strings.Contains(err.Error(), ErrSessionNotFound.Error())
}

// recoverSession reinitializes with the last-known capabilities, up to
// MaxRetries attempts.
func (c *Client) recoverSession(ctx context.Context) error {
	if c.lastCaps == nil {
		return ErrSessionNotFound
	}
	c.state = Recovering
	slog.Warn("device: session lost, recovering")

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.wire.sessionID = ""
		if err := c.wire.newSession(ctx, c.lastCaps); err != nil {
			slog.Warn("device: recovery attempt failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}
		c.state = Running
		slog.Info("device: session recovered", "attempt", attempt)
		return nil
	}

	c.state = Closed
	return ErrSessionNotFound
}

// withRecovery runs fn, and retries once after a successful recovery
// when the session went away mid-call.
func (c *Client) withRecovery(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isGone(err) {
		return err
	}
	if rerr := c.recoverSession(ctx); rerr != nil {
		return rerr
	}
	return fn()
}

// Screenshot captures the screen. blocked is true when the device
// refused the capture (secure view); the caller proceeds with the UI
// tree only.
func (c *Client) Screenshot(ctx context.Context) (data []byte, blocked bool, err error) {
	var value json.RawMessage
	err = c.withRecovery(ctx, func() error {
		var e error
		value, e = c.wire.session(ctx, http.MethodGet, "/screenshot", nil)
		return e
	})
	if err != nil {
		if isSecureScreenError(err) {
			return nil, true, nil
		}
		return nil, false, err
	}

	raw, err := base64.StdEncoding.DecodeString(stringValue(value))
	if err != nil {
		return nil, false, fmt.Errorf("decode screenshot: %w", err)
	}
	// FLAG_SECURE devices sometimes return a degenerate stub image
	// instead of an error.
	if len(raw) < 200 {
		return nil, true, nil
	}
	return raw, false, nil
}

func isSecureScreenError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secure") || strings.Contains(msg, "unable to capture screen")
}

// UITree returns the serialized UI hierarchy of the current screen.
func (c *Client) UITree(ctx context.Context) (string, error) {
	var value json.RawMessage
	err := c.withRecovery(ctx, func() error {
		var e error
		value, e = c.wire.session(ctx, http.MethodGet, "/source", nil)
		return e
	})
	if err != nil {
		return "", fmt.Errorf("get ui tree: %w", err)
	}
	return stringValue(value), nil
}

// CurrentPackage returns the foreground package, best-effort.
func (c *Client) CurrentPackage(ctx context.Context) string {
	value, err := c.wire.session(ctx, http.MethodGet, "/appium/device/current_package", nil)
	if err == nil {
		if pkg := stringValue(value); pkg != "" {
			return pkg
		}
	}
	return c.shellCurrentFocus("package")
}

// CurrentActivity returns the foreground activity, best-effort.
func (c *Client) CurrentActivity(ctx context.Context) string {
	value, err := c.wire.session(ctx, http.MethodGet, "/appium/device/current_activity", nil)
	if err == nil {
		if act := stringValue(value); act != "" {
			return act
		}
	}
	return c.shellCurrentFocus("activity")
}

var focusRe = regexp.MustCompile(`([\w.]+)/([\w.$]+)`)

// shellCurrentFocus parses `dumpsys window` as a fallback when the
// primary endpoints fail (some OEM builds reject them).
func (c *Client) shellCurrentFocus(part string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	value, err := c.wire.executeScript(ctx, "mobile: shell", map[string]interface{}{
		"command": "dumpsys",
		"args":    []string{"window", "displays"},
	})
	if err != nil {
		return ""
	}
	m := focusRe.FindStringSubmatch(stringValue(value))
	if m == nil {
		return ""
	}
	if part == "package" {
		return m[1]
	}
	return m[2]
}

// findElement resolves an opaque target identifier through an ordered
// ladder of locator strategies: accessibility id, resource id, then
// visible text.
func (c *Client) findElement(ctx context.Context, id string) (string, error) {
	type strategy struct {
		using string
		value string
	}
	resourceID := id
	if !strings.Contains(id, ":id/") && c.cfg.AppPackage != "" {
		resourceID = c.cfg.AppPackage + ":id/" + id
	}
	ladder := []strategy{
		{"accessibility id", id},
		{"id", resourceID},
		{"id", id},
		{"xpath", fmt.Sprintf(`//*[@text=%s]`, xpathLiteral(id))},
	}

	for _, s := range ladder {
		value, err := c.wire.session(ctx, http.MethodPost, "/element", map[string]string{
			"using": s.using,
			"value": s.value,
		})
		if err != nil {
			if isGone(err) {
				return "", err
			}
			continue // TryNext
		}
		if el := elementID(value); el != "" {
			return el, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrElementNotFound, id)
}

// xpathLiteral quotes arbitrary text for an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func elementID(value json.RawMessage) string {
	var m map[string]string
	if json.Unmarshal(value, &m) != nil {
		return ""
	}
	for _, v := range m {
		return v
	}
	return ""
}

func (c *Client) elementCenter(ctx context.Context, el string) (int, int, error) {
	value, err := c.wire.session(ctx, http.MethodGet, "/element/"+el+"/rect", nil)
	if err != nil {
		return 0, 0, err
	}
	var rect struct {
		X, Y, Width, Height int
	}
	if err := json.Unmarshal(value, &rect); err != nil {
		return 0, 0, fmt.Errorf("decode element rect: %w", err)
	}
	return rect.X + rect.Width/2, rect.Y + rect.Height/2, nil
}

func (c *Client) performActions(ctx context.Context, payload map[string]interface{}) error {
	_, err := c.wire.session(ctx, http.MethodPost, "/actions", payload)
	return err
}

// Tap taps the target. Priority: explicit coordinates, bounding box
// center, element identifier.
func (c *Client) Tap(ctx context.Context, target TapTarget) error {
	return c.withRecovery(ctx, func() error {
		switch {
		case target.X != nil && target.Y != nil:
			return c.performActions(ctx, tapActions(*target.X, *target.Y))
		case target.Box != nil:
			x, y := target.Box.Center()
			return c.performActions(ctx, tapActions(x, y))
		case target.ID != "":
			el, err := c.findElement(ctx, target.ID)
			if err != nil {
				return err
			}
			_, err = c.wire.session(ctx, http.MethodPost, "/element/"+el+"/click", nil)
			return err
		}
		return fmt.Errorf("tap: empty target")
	})
}

// InputText focuses the target and types text through a three-rung
// ladder: the mobile typing extension, W3C key actions, then the
// element value endpoint.
func (c *Client) InputText(ctx context.Context, target TapTarget, text string) error {
	if err := c.Tap(ctx, target); err != nil {
		return fmt.Errorf("focus for input: %w", err)
	}
	time.Sleep(400 * time.Millisecond) // keyboard settle

	run := func(name string, fn func() error) StrategyResult {
		if err := fn(); err != nil {
			if isGone(err) {
				return Fatal
			}
			slog.Debug("device: input method failed", "method", name, "error", err)
			return TryNext
		}
		return OK
	}

	ladder := []struct {
		name string
		fn   func() error
	}{
		{"mobile:type", func() error {
			_, err := c.wire.executeScript(ctx, "mobile: type", map[string]interface{}{"text": text})
			return err
		}},
		{"key-actions", func() error {
			return c.performActions(ctx, keyActions(text))
		}},
		{"element-value", func() error {
			if target.ID == "" {
				return fmt.Errorf("no element id for send_keys")
			}
			el, err := c.findElement(ctx, target.ID)
			if err != nil {
				return err
			}
			_, err = c.wire.session(ctx, http.MethodPost, "/element/"+el+"/value", map[string]string{"text": text})
			return err
		}},
	}

	for _, rung := range ladder {
		switch run(rung.name, rung.fn) {
		case OK:
			return nil
		case Fatal:
			return ErrSessionNotFound
		}
	}
	return fmt.Errorf("input text: all methods failed for %q", target.ID)
}

// LongPress presses and holds the target.
func (c *Client) LongPress(ctx context.Context, target TapTarget, durationMS int) error {
	if durationMS <= 0 {
		durationMS = c.cfg.LongPressMS
	}
	x, y, err := c.resolvePoint(ctx, target)
	if err != nil {
		return err
	}
	return c.performActions(ctx, longPressActions(x, y, durationMS))
}

// DoubleTap taps the target twice.
func (c *Client) DoubleTap(ctx context.Context, target TapTarget) error {
	x, y, err := c.resolvePoint(ctx, target)
	if err != nil {
		return err
	}
	return c.performActions(ctx, doubleTapActions(x, y))
}

func (c *Client) resolvePoint(ctx context.Context, target TapTarget) (int, int, error) {
	switch {
	case target.X != nil && target.Y != nil:
		return *target.X, *target.Y, nil
	case target.Box != nil:
		x, y := target.Box.Center()
		return x, y, nil
	case target.ID != "":
		el, err := c.findElement(ctx, target.ID)
		if err != nil {
			return 0, 0, err
		}
		return c.elementCenter(ctx, el)
	}
	return 0, 0, fmt.Errorf("empty target")
}

// ClearText clears the target field.
func (c *Client) ClearText(ctx context.Context, id string) error {
	return c.withRecovery(ctx, func() error {
		el, err := c.findElement(ctx, id)
		if err != nil {
			return err
		}
		_, err = c.wire.session(ctx, http.MethodPost, "/element/"+el+"/clear", nil)
		return err
	})
}

// ReplaceText clears the field and types the new text.
func (c *Client) ReplaceText(ctx context.Context, target TapTarget, text string) error {
	if target.ID != "" {
		if err := c.ClearText(ctx, target.ID); err != nil {
			slog.Debug("device: clear before replace failed", "error", err)
		}
	}
	return c.InputText(ctx, target, text)
}

// Direction of a scroll, swipe, or flick gesture.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Scroll performs a slow drag in the given direction.
func (c *Client) Scroll(ctx context.Context, dir Direction) error {
	return c.gesture(ctx, dir, 600)
}

// Swipe performs a horizontal or vertical swipe.
func (c *Client) Swipe(ctx context.Context, dir Direction) error {
	return c.gesture(ctx, dir, 300)
}

// Flick performs a fast short gesture.
func (c *Client) Flick(ctx context.Context, dir Direction) error {
	return c.gesture(ctx, dir, 100)
}

func (c *Client) gesture(ctx context.Context, dir Direction, durationMS int) error {
	w, h := c.screenW, c.screenH
	if w == 0 || h == 0 {
		w, h = 1080, 1920
	}
	cx, cy := w/2, h/2
	dx, dy := w/3, h/3

	var x1, y1, x2, y2 int
	switch dir {
	case Up: // content moves up: drag from low to high
		x1, y1, x2, y2 = cx, cy+dy, cx, cy-dy
	case Down:
		x1, y1, x2, y2 = cx, cy-dy, cx, cy+dy
	case Left:
		x1, y1, x2, y2 = cx+dx, cy, cx-dx, cy
	case Right:
		x1, y1, x2, y2 = cx-dx, cy, cx+dx, cy
	default:
		return fmt.Errorf("gesture: unknown direction %q", dir)
	}
	return c.withRecovery(ctx, func() error {
		return c.performActions(ctx, swipeActions(x1, y1, x2, y2, durationMS))
	})
}

// PressBack sends the system back key.
func (c *Client) PressBack(ctx context.Context) error {
	return c.withRecovery(ctx, func() error {
		_, err := c.wire.session(ctx, http.MethodPost, "/back", nil)
		if err == nil {
			return nil
		}
		// Some drivers dropped the legacy endpoint.
		_, err = c.wire.executeScript(ctx, "mobile: pressKey", map[string]interface{}{"keycode": 4})
		return err
	})
}

// ResetApp force-stops and relaunches the target app.
func (c *Client) ResetApp(ctx context.Context) error {
	if err := c.TerminateApp(ctx, c.cfg.AppPackage); err != nil {
		slog.Debug("device: terminate during reset failed", "error", err)
	}
	return c.LaunchApp(ctx)
}

// TerminateApp force-stops the package.
func (c *Client) TerminateApp(ctx context.Context, pkg string) error {
	_, err := c.wire.executeScript(ctx, "mobile: terminateApp", map[string]interface{}{"appId": pkg})
	return err
}

// LaunchApp activates the target app.
func (c *Client) LaunchApp(ctx context.Context) error {
	return c.withRecovery(ctx, func() error {
		_, err := c.wire.executeScript(ctx, "mobile: activateApp", map[string]interface{}{
			"appId": c.cfg.AppPackage,
		})
		return err
	})
}

// StartActivity starts an explicit activity, optionally waiting for it.
func (c *Client) StartActivity(ctx context.Context, pkg, activity string, wait bool) error {
	args := map[string]interface{}{
		"component": pkg + "/" + activity,
	}
	if wait {
		args["wait"] = true
	}
	_, err := c.wire.executeScript(ctx, "mobile: startActivity", args)
	return err
}

// Close tears the session down.
func (c *Client) Close(ctx context.Context) {
	c.wire.deleteSession(ctx)
	c.state = Closed
}

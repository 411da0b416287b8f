package crawler

import (
	"regexp"
	"strings"

	"github.com/droidcrawl/droidcrawl/internal/store"
)

// StepContext is everything the prompt needs from past steps.
type StepContext struct {
	RecentSteps    []store.StepDetail // most recent last
	VisitedScreens []store.ScreenSummary
	ScreenActions  []store.ScreenAction // tried on the current screen
}

const recentStepLimit = 20

// systemActivityRe matches activities that belong to the OS shell, the
// launcher, or permission pickers rather than the app under test.
var systemActivityRe = regexp.MustCompile(
	`(?i)(com\.android\.|com\.google\.android\.(gms|permissioncontroller|packageinstaller)|` +
		`launcher|resolveractivity|grantpermissions|chooserActivity)`)

// ContextBuilder assembles prompt context from persistence. Filtering
// shapes the prompt only; step numbering is untouched.
type ContextBuilder struct {
	store           *store.Store
	appPackage      string
	allowedPackages []string
}

func NewContextBuilder(st *store.Store, appPackage string, allowed []string) *ContextBuilder {
	return &ContextBuilder{store: st, appPackage: appPackage, allowedPackages: allowed}
}

// Build fetches recent history, the visited-screen summary, and the
// actions already tried on the current screen.
func (c *ContextBuilder) Build(runID, fromScreenID int64) (*StepContext, error) {
	recent, err := c.store.GetRecentSteps(runID, recentStepLimit)
	if err != nil {
		return nil, err
	}
	visited, err := c.store.GetVisitedScreens(runID)
	if err != nil {
		return nil, err
	}
	onScreen, err := c.store.GetActionsForScreen(fromScreenID, runID)
	if err != nil {
		return nil, err
	}

	filtered := visited[:0]
	for _, s := range visited {
		if c.isNoise(s.Activity) {
			continue
		}
		filtered = append(filtered, s)
	}

	return &StepContext{
		RecentSteps:    recent,
		VisitedScreens: filtered,
		ScreenActions:  onScreen,
	}, nil
}

// isNoise drops screens outside the target app plus its allow-list,
// and system/launcher/permission surfaces.
func (c *ContextBuilder) isNoise(activity string) bool {
	if activity == "" {
		return false
	}
	if systemActivityRe.MatchString(activity) {
		return true
	}
	// Relative names (".MainActivity") always belong to the target.
	if strings.HasPrefix(activity, ".") {
		return false
	}
	// Fully qualified names need at least a package prefix to judge.
	if strings.Count(activity, ".") < 2 {
		return false
	}
	if strings.HasPrefix(activity, c.appPackage) {
		return false
	}
	for _, pkg := range c.allowedPackages {
		if strings.HasPrefix(activity, pkg) {
			return false
		}
	}
	return true
}

package update

import (
	"context"
	"strings"
	"time"

	"kode/internal/debug"
)

// PackageManager identifies a JavaScript package manager able to install kode globally.
type PackageManager string

const (
	NPM PackageManager = "npm"
	Bun PackageManager = "bun"
)

// ProbeTimeout bounds each package-manager detection probe.
const ProbeTimeout = 5 * time.Second

// managerPriority is the order in which managers are probed and suggested.
var managerPriority = []PackageManager{NPM, Bun}

// String returns the executable name.
func (m PackageManager) String() string { return string(m) }

// InstallArgs returns the arguments that reinstall pkg globally with m.
func (m PackageManager) InstallArgs(pkg string) []string {
	if m == Bun {
		return []string{"add", "-g", pkg + "@latest"}
	}
	return []string{"install", "-g", pkg}
}

// SuggestionCommand is the upgrade command shown to users for m.
func (m PackageManager) SuggestionCommand(pkg string) string {
	if m == Bun {
		return "bun add -g " + pkg + "@latest"
	}
	return "npm install -g " + pkg + "@latest"
}

// Detector chooses the package manager to use for global installs.
// Results are not cached; every Detect call re-runs the probes.
type Detector struct {
	runner CommandRunner
}

// NewDetector creates a Detector that probes with runner.
func NewDetector(runner CommandRunner) *Detector {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Detector{runner: runner}
}

// Priority lists the managers in the order Detect probes them.
func (d *Detector) Priority() []PackageManager {
	return append([]PackageManager(nil), managerPriority...)
}

// Suggestions returns one upgrade command per manager, in detection priority.
func Suggestions(pkg string) []string {
	out := make([]string, 0, len(managerPriority))
	for _, m := range managerPriority {
		out = append(out, m.SuggestionCommand(pkg))
	}
	return out
}

// Detect returns the first manager whose probe succeeds, or NPM when none do.
func (d *Detector) Detect(ctx context.Context) PackageManager {
	strategies := make([]Strategy[PackageManager], 0, len(d.Priority()))
	for _, m := range d.Priority() {
		m := m
		strategies = append(strategies, Strategy[PackageManager]{
			Name: m.String(),
			Try: func(ctx context.Context) (PackageManager, bool) {
				return m, d.probe(ctx, m)
			},
		})
	}

	if m, _, ok := FirstSuccess(ctx, strategies...); ok {
		debug.Logf("detect: using %s", m)
		return m
	}
	debug.Logf("detect: no package manager responded, defaulting to %s", NPM)
	return NPM
}

func (d *Detector) probe(ctx context.Context, m PackageManager) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	switch m {
	case NPM:
		out, err := d.runner.Run(ctx, "npm", "-g", "root")
		if err != nil {
			debug.Logf("detect: npm -g root: %v", err)
			return false
		}
		return strings.TrimSpace(string(out)) != ""
	case Bun:
		if _, err := d.runner.Run(ctx, "bun", "--version"); err != nil {
			debug.Logf("detect: bun --version: %v", err)
			return false
		}
		return true
	default:
		return false
	}
}

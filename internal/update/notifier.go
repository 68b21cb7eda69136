package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"kode/internal/debug"
)

// CheckInterval is the minimum time between two registry checks.
const CheckInterval = 24 * time.Hour

// State is the persisted outcome of the last update check.
type State struct {
	LastCheckAt          time.Time
	LastSuggestedVersion string
}

// StateStore loads and saves notifier state across invocations.
type StateStore interface {
	Load() (State, error)
	Save(State) error
	// AutoUpdaterDisabled reports whether the user opted out of update checks.
	AutoUpdaterDisabled() bool
}

// VersionResolver resolves the latest published version.
type VersionResolver interface {
	LatestVersion(ctx context.Context) (string, bool)
}

// NotifierOptions wires a Notifier's collaborators.
type NotifierOptions struct {
	CurrentVersion string
	Package        string
	Store          StateStore
	Source         VersionResolver
	Env            Environment
	// Out receives the one-line hint. Defaults to os.Stdout.
	Out io.Writer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Notifier prints a low-noise hint when a newer release exists, at most once
// per CheckInterval.
type Notifier struct {
	opts NotifierOptions
}

// NewNotifier creates a Notifier.
func NewNotifier(opts NotifierOptions) *Notifier {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{opts: opts}
}

// CheckAndNotify runs one throttled update check. It never returns an error
// and never panics; failures are written to the debug log.
func (n *Notifier) CheckAndNotify(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			debug.Errorf("update-notify: panic: %v", r)
		}
	}()
	if err := n.check(ctx); err != nil {
		debug.Errorf("update-notify: %v", err)
	}
}

// Go runs CheckAndNotify in its own goroutine. The returned channel is closed
// when the check finishes.
func (n *Notifier) Go(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.CheckAndNotify(ctx)
	}()
	return done
}

func (n *Notifier) check(ctx context.Context) error {
	o := n.opts
	if o.Env != nil {
		if o.Env.TestMode() {
			return nil
		}
	}
	if o.Store == nil || o.Source == nil {
		return fmt.Errorf("notifier not configured")
	}
	if o.Store.AutoUpdaterDisabled() {
		return nil
	}
	if o.Env != nil {
		if o.Env.InContainer() {
			debug.Logf("update-notify: skipped inside container")
			return nil
		}
		if !o.Env.Online(ctx) {
			debug.Logf("update-notify: skipped, offline")
			return nil
		}
	}

	state, err := o.Store.Load()
	if err != nil {
		debug.Warnf("update-notify: load state: %v", err)
		state = State{}
	}

	now := o.Now()
	if !state.LastCheckAt.IsZero() && now.Sub(state.LastCheckAt) < CheckInterval {
		return nil
	}

	latest, ok := o.Source.LatestVersion(ctx)
	if !ok {
		// Still record the check so an unreachable registry is not retried every run.
		return o.Store.Save(State{LastCheckAt: now, LastSuggestedVersion: state.LastSuggestedVersion})
	}

	newer, err := IsNewer(o.CurrentVersion, latest)
	if err != nil {
		if saveErr := o.Store.Save(State{LastCheckAt: now, LastSuggestedVersion: state.LastSuggestedVersion}); saveErr != nil {
			debug.Errorf("update-notify: save state: %v", saveErr)
		}
		return fmt.Errorf("compare versions: %w", err)
	}
	if !newer {
		return o.Store.Save(State{LastCheckAt: now, LastSuggestedVersion: state.LastSuggestedVersion})
	}

	if err := o.Store.Save(State{LastCheckAt: now, LastSuggestedVersion: latest}); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	suggestions := Suggestions(o.Package)
	_, _ = fmt.Fprintf(o.Out, "New version available: %s. Recommended: %s\n", latest, suggestions[0])
	return nil
}

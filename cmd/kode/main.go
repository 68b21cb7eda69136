package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kode/internal/config"
	"kode/internal/debug"
	"kode/internal/dynconfig"
	"kode/internal/telemetry"
	"kode/internal/update"
)

const (
	minVersionTimeout = 5 * time.Second

	// notifierBudget covers the connectivity probe, both version lookup
	// stages and saving the result.
	notifierBudget = update.ConnectivityTimeout + 2*update.DefaultTimeout + time.Second
	// notifierWait is how long shutdown waits for the check once its context
	// has expired.
	notifierWait = notifierBudget + 500*time.Millisecond
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries the state shared by the commands of a single invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	debugFlag     bool
	noUpdateCheck bool

	events       *telemetry.Store
	eventsOpened bool
	notifyDone   <-chan struct{}

	// Seams replaced in tests.
	assertMinVersion func(ctx context.Context) error
	startNotifier    func(ctx context.Context) <-chan struct{}
	isTerminal       func(w io.Writer) bool
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{
		stdout:     stdout,
		stderr:     stderr,
		isTerminal: isTerminal,
	}
	c.assertMinVersion = c.defaultMinVersionCheck
	c.startNotifier = c.defaultNotifier
	return c
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newCLI(stdout, stderr).run(ctx, args)
}

func (c *cli) run(ctx context.Context, args []string) int {
	if args == nil {
		args = []string{}
	}
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	c.shutdown()

	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           update.ProductName,
		Short:         "AI coding assistant for the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.preRun(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	root.PersistentFlags().BoolVar(&c.debugFlag, "debug", false, "Write a debug log to ~/.kode/debug.log")
	root.PersistentFlags().BoolVar(&c.noUpdateCheck, "no-update-check", false, "Skip the background update check")

	root.AddCommand(
		c.newVersionCmd(),
		c.newUpdateCmd(),
		c.newSetupPrefixCmd(),
		c.newEventsCmd(),
	)
	return root
}

// maintenanceCommands never run the version gate or the update notifier, so
// an unsupported build can still update itself.
var maintenanceCommands = map[string]struct{}{
	"version":      {},
	"update":       {},
	"setup-prefix": {},
	"help":         {},
	"completion":   {},
}

func (c *cli) preRun(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error initializing config: %v\n", err)
	}

	if err := debug.Init(c.debugFlag || config.GetBool(config.KeyDebug)); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Warning: could not open debug log: %v\n", err)
	}
	if c.debugFlag {
		if err := config.ApplyOverrides(map[string]any{config.KeyDebug: true}); err != nil {
			debug.Logf("apply overrides: %v", err)
		}
	}

	if _, skip := maintenanceCommands[cmd.Name()]; skip {
		return nil
	}

	if err := c.assertMinVersion(cmd.Context()); err != nil {
		if handleMinVersionResult(c.stderr, err, c.isTerminal(c.stderr)) {
			return &ExitError{Code: 1}
		}
	}

	if !c.noUpdateCheck {
		c.notifyDone = c.startNotifier(cmd.Context())
	}
	return nil
}

// eventStore opens the event log on first use. It returns nil when the log
// is disabled or cannot be opened.
func (c *cli) eventStore(ctx context.Context) *telemetry.Store {
	if c.eventsOpened {
		return c.events
	}
	c.eventsOpened = true
	if !config.GetBool(config.KeyTelemetryEnabled) {
		return nil
	}
	path, err := telemetry.DefaultPath()
	if err != nil {
		debug.Logf("telemetry path: %v", err)
		return nil
	}
	store, err := telemetry.Open(ctx, path)
	if err != nil {
		debug.Logf("open telemetry: %v", err)
		return nil
	}
	c.events = store
	return store
}

// recorder returns the event sink for installer and prefix events.
func (c *cli) recorder() update.EventRecorder {
	if store := c.eventStore(context.Background()); store != nil {
		return store
	}
	return nil
}

// shutdown waits for a pending update check, then closes the event log and
// the debug log.
func (c *cli) shutdown() {
	if c.notifyDone != nil {
		select {
		case <-c.notifyDone:
		case <-time.After(notifierWait):
			debug.Logf("update check still running at exit")
		}
		c.notifyDone = nil
	}
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			debug.Logf("close telemetry: %v", err)
		}
		c.events = nil
	}
	c.eventsOpened = false
	debug.Close()
}

func (c *cli) defaultMinVersionCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, minVersionTimeout)
	defer cancel()

	client := dynconfig.New(
		config.GetString(config.KeyDynamicConfigURL),
		dynconfig.WithUserAgent(update.ProductName+"/"+Version),
	)
	return update.NewGate(client, update.PackageName, Version).Check(ctx)
}

func (c *cli) defaultNotifier(ctx context.Context) <-chan struct{} {
	registryURL := config.GetString(config.KeyRegistryURL)
	n := update.NewNotifier(update.NotifierOptions{
		CurrentVersion: Version,
		Package:        update.PackageName,
		Store:          configStateStore{},
		Source:         newVersionSource(registryURL),
		Env:            update.NewSystemEnvironment(registryURL),
		Out:            c.stdout,
	})
	return runNotifier(ctx, n)
}

// runNotifier starts n in the background with a deadline of notifierBudget.
func runNotifier(ctx context.Context, n *update.Notifier) <-chan struct{} {
	ctx, cancel := context.WithTimeout(ctx, notifierBudget)
	done := n.Go(ctx)
	go func() {
		<-done
		cancel()
	}()
	return done
}

func newVersionSource(registryURL string) *update.VersionSource {
	return update.NewVersionSource(update.PackageName, Version, update.WithRegistryURL(registryURL))
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			printVersion(c.stdout)
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kode/internal/update"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	textColor      = lipgloss.Color("#F8F8F2")
	successColor   = lipgloss.Color("#50FA7B")
	errorColor     = lipgloss.Color("#FF5555")
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	statusStyle  = lipgloss.NewStyle().Foreground(textColor)
	detailStyle  = lipgloss.NewStyle().Foreground(dimColor).Italic(true)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	titleStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
)

// progressModel is the bubbletea model for the pre-install spinner.
type progressModel struct {
	spinner spinner.Model
	message string
	detail  string
	done    bool

	// Channel to receive updates from the installer goroutine
	updates chan progressUpdate
}

type progressUpdate struct {
	message string
	detail  string
	done    bool
}

type progressMsg progressUpdate

func newProgressModel() *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	return &progressModel{
		spinner: s,
		message: "Preparing update",
		updates: make(chan progressUpdate, 16),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdate(),
	)
}

func (m *progressModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return progressMsg(<-m.updates)
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		if msg.done {
			m.done = true
			return m, tea.Quit
		}
		m.message = msg.message
		m.detail = msg.detail
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(statusStyle.Render(m.message))
	if m.detail != "" {
		b.WriteString(" ")
		b.WriteString(detailStyle.Render(m.detail))
	}
	return b.String()
}

func (m *progressModel) sendUpdate(u progressUpdate) {
	select {
	case m.updates <- u:
	default:
		// Drop if channel is full
	}
}

// progressDisplay renders installer stages with an inline spinner. It stops
// itself as soon as the package manager starts streaming output.
type progressDisplay struct {
	program *tea.Program
	model   *progressModel
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

func newProgressDisplay(w io.Writer) *progressDisplay {
	model := newProgressModel()
	program := tea.NewProgram(
		model,
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	d := &progressDisplay{
		program: program,
		model:   model,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(d.done)
	}()
	return d
}

// Stage implements update.Reporter.
func (d *progressDisplay) Stage(stage update.InstallStage, detail string) {
	if stage == update.StageInstalling || stage == update.StageDone {
		d.Stop()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.model.sendUpdate(progressUpdate{message: stageMessage(stage), detail: detail})
}

// Stop tears the spinner down and waits for the program to exit.
func (d *progressDisplay) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.model.sendUpdate(progressUpdate{done: true})

	select {
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
		<-d.done
	}
}

// lineReporter prints one line per stage when output is not a terminal.
type lineReporter struct {
	w io.Writer
}

// Stage implements update.Reporter.
func (r lineReporter) Stage(stage update.InstallStage, detail string) {
	if stage == update.StageInstalling || stage == update.StageDone {
		return
	}
	msg := stageMessage(stage)
	if detail != "" {
		msg = fmt.Sprintf("%s - %s", msg, detail)
	}
	_, _ = fmt.Fprintf(r.w, "%s...\n", msg)
}

var stageMessages = map[update.InstallStage]string{
	update.StageLocking:     "Acquiring update lock",
	update.StageDetecting:   "Detecting package manager",
	update.StagePermissions: "Checking npm permissions",
}

func stageMessage(stage update.InstallStage) string {
	if msg, ok := stageMessages[stage]; ok {
		return msg
	}
	return "Updating"
}

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"kode/internal/debug"
	"kode/internal/update"
)

// handleMinVersionResult prints the upgrade instructions for a
// *update.MinVersionError and reports whether the process must exit.
// When rich is true the message is rendered as markdown for a terminal.
func handleMinVersionResult(w io.Writer, err error, rich bool) bool {
	if err == nil {
		return false
	}

	var minErr *update.MinVersionError
	if !errors.As(err, &minErr) {
		debug.Errorf("error checking minimum version: %v", err)
		return false
	}

	if rich {
		out, renderErr := renderMarkdown(formatMinVersionMarkdown(minErr))
		if renderErr == nil {
			_, _ = fmt.Fprint(w, out)
			return true
		}
		debug.Logf("render min version message: %v", renderErr)
	}
	_, _ = fmt.Fprint(w, formatMinVersionMessage(minErr))
	return true
}

func formatMinVersionMessage(e *update.MinVersionError) string {
	return fmt.Sprintf(`
Your %[1]s version (%[2]s) is too old. Version %[3]s or later is required.
Run one of the following commands to upgrade:
%[4]s
`, update.ProductName, e.Current, e.Required, indentCommands(e.Suggestions, "    "))
}

func formatMinVersionMarkdown(e *update.MinVersionError) string {
	var cmds strings.Builder
	for _, s := range e.Suggestions {
		cmds.WriteString(s)
		cmds.WriteString("\n")
	}
	return fmt.Sprintf("# %[1]s %[2]s is no longer supported\n\n"+
		"Version **%[3]s** or later is required. Run one of the following commands to upgrade:\n\n"+
		"```sh\n%[4]s```\n", update.ProductName, e.Current, e.Required, cmds.String())
}

func indentCommands(cmds []string, indent string) string {
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		lines = append(lines, indent+c)
	}
	return strings.Join(lines, "\n")
}

func renderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kode/internal/telemetry"
)

func (c *cli) newEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent update events recorded on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := c.eventStore(cmd.Context())
			if store == nil {
				_, _ = fmt.Fprintln(c.stdout, "Event log is disabled (telemetry.enabled=false) or unavailable.")
				return nil
			}
			events, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			printEvents(c.stdout, events)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show")
	return cmd
}

func printEvents(w io.Writer, events []telemetry.Event) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, detailStyle.Render("No events recorded."))
		return
	}

	_, _ = fmt.Fprintln(w, titleStyle.Render("Recent update events"))
	for _, e := range events {
		name := successStyle.Render(e.Name)
		if strings.Contains(e.Name, "fail") || strings.Contains(e.Name, "contention") {
			name = errorStyle.Render(e.Name)
		}
		_, _ = fmt.Fprintf(w, "%s  %s", detailStyle.Render(e.CreatedAt.Format(time.DateTime)), name)
		if attrs := formatAttrs(e.Attrs); attrs != "" {
			_, _ = fmt.Fprintf(w, " %s", statusStyle.Render(attrs))
		}
		_, _ = fmt.Fprintln(w)
	}
}

func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printReport(w io.Writer, r *runReport, asJSON bool) error {
	if asJSON {
		return printJSON(w, r)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "STAGE\tCOMPONENT\tKIND\tOPERATION\tOUTCOME\tRESOURCE\tCHANGES\tDURATION")
	for _, c := range r.Components {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Stage, c.Component, c.Kind, c.Operation, c.Outcome,
			orDash(c.ResourceID), orDash(strings.Join(c.Changes, ",")), c.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s %s: %s (%d succeeded, %d failed, %d skipped) in %s [run %s]\n",
		r.Command, r.Deployment, r.Status, r.Succeeded, r.Failed, r.Skipped,
		r.Duration.Round(time.Millisecond), r.RunID)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

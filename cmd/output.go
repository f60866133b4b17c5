package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/zhubert/hopper/internal/state"
)

var jsonOutput bool

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSessions(w io.Writer, sessions []state.Session) error {
	if jsonOutput {
		return printJSON(w, nonNil(sessions))
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tSTAGE\tSTATE\tACTIVE\tWINDOW\tUPDATED\tSTATUS")
	for _, s := range sessions {
		active := ""
		if s.Active {
			active = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Project, s.Stage, s.State, active, dash(s.Window()),
			s.UpdatedAt.Local().Format(time.DateTime), oneLine(s.Status))
	}
	return tw.Flush()
}

func printSession(w io.Writer, s state.Session) error {
	if jsonOutput {
		return printJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", s.ID)
	fmt.Fprintf(tw, "Project:\t%s\n", s.Project)
	fmt.Fprintf(tw, "Scope:\t%s\n", dash(s.Scope))
	fmt.Fprintf(tw, "Stage:\t%s\n", s.Stage)
	fmt.Fprintf(tw, "State:\t%s\n", s.State)
	fmt.Fprintf(tw, "Status:\t%s\n", dash(oneLine(s.Status)))
	fmt.Fprintf(tw, "Active:\t%t\n", s.Active)
	fmt.Fprintf(tw, "Window:\t%s\n", dash(s.Window()))
	fmt.Fprintf(tw, "Created:\t%s\n", s.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Updated:\t%s\n", s.UpdatedAt.Local().Format(time.DateTime))
	return tw.Flush()
}

func printBacklog(w io.Writer, items []state.BacklogItem) error {
	if jsonOutput {
		return printJSON(w, nonNil(items))
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "Backlog is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tSESSION\tCREATED\tDESCRIPTION")
	for _, b := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.Project, dash(b.SessionID), b.CreatedAt.Local().Format(time.DateTime), oneLine(b.Description))
	}
	return tw.Flush()
}

func printItem(w io.Writer, verb string, b state.BacklogItem) error {
	if jsonOutput {
		return printJSON(w, b)
	}
	_, err := fmt.Fprintf(w, "%s %s (%s): %s\n", verb, b.ID, b.Project, oneLine(b.Description))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " | ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

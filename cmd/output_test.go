package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zhubert/hopper/internal/state"
)

func TestPrintSessions_Table(t *testing.T) {
	jsonOutput = false
	ref := "@2"
	var buf bytes.Buffer
	err := printSessions(&buf, []state.Session{
		{ID: "s1", Project: "api", Stage: state.StageOre, State: "new", UpdatedAt: time.Now()},
		{ID: "s2", Project: "web", Stage: state.StageShip, State: "error", Active: true, WindowRef: &ref, Status: "boom\nexit 1"},
	})
	if err != nil {
		t.Fatalf("printSessions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"s2", "yes", "@2", "boom | exit 1"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row %q missing %q", lines[2], want)
		}
	}
}

func TestPrintSessions_Empty(t *testing.T) {
	tests := []struct {
		name string
		json bool
		want string
	}{
		{"table", false, "No sessions.\n"},
		{"json", true, "[]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jsonOutput = tt.json
			defer func() { jsonOutput = false }()

			var buf bytes.Buffer
			if err := printSessions(&buf, nil); err != nil {
				t.Fatalf("printSessions: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

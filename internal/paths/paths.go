// Package paths resolves the per-user directory hopper keeps its state in.
package paths

import (
	"os"
	"path/filepath"
)

// EnvDataDir overrides the data directory when set.
const EnvDataDir = "HOPPER_DATA_DIR"

// DataDir returns the per-user data directory. Resolution order:
// $HOPPER_DATA_DIR, $XDG_DATA_HOME/hopper, ~/.local/share/hopper.
// The directory is not created.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return filepath.Abs(dir)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hopper"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "hopper"), nil
}

// Layout names every file hopper keeps under one data directory.
type Layout struct {
	Dir string
}

func (l Layout) Socket() string   { return filepath.Join(l.Dir, "server.sock") }
func (l Layout) Lock() string     { return filepath.Join(l.Dir, "server.lock") }
func (l Layout) Sessions() string { return filepath.Join(l.Dir, "sessions.jsonl") }
func (l Layout) Backlog() string  { return filepath.Join(l.Dir, "backlog.jsonl") }
func (l Layout) Archived() string { return filepath.Join(l.Dir, "archived.jsonl") }
func (l Layout) IDs() string      { return filepath.Join(l.Dir, "ids.json") }
func (l Layout) Log() string      { return filepath.Join(l.Dir, "hopper.log") }
func (l Layout) Config() string   { return filepath.Join(l.Dir, "config.toml") }

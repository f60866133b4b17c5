package jsonl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/zhubert/hopper/internal/errors"
)

type record struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func TestLoad_MissingFile(t *testing.T) {
	f := New[record](filepath.Join(t.TempDir(), "missing.jsonl"))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records []record
	}{
		{"empty", []record{}},
		{"single", []record{{ID: "s1", Count: 1}}},
		{"ordered", []record{{ID: "s3"}, {ID: "s1", Count: 7}, {ID: "s2", Count: -2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New[record](filepath.Join(t.TempDir(), "data", "records.jsonl"))

			require.NoError(t, f.Save(tt.records))
			got, err := f.Load()
			require.NoError(t, err)
			assert.Equal(t, tt.records, got)
		})
	}
}

func TestSave_OneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	f := New[record](path)

	require.NoError(t, f.Save([]record{{ID: "a"}, {ID: "b"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Equal(t, []string{`{"id":"a","count":0}`, `{"id":"b","count":0}`}, lines)
}

func TestLoad_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n\n  \n{\"id\":\"b\"}\n"), 0o600))

	got, err := New[record](path).Load()
	require.NoError(t, err)
	assert.Equal(t, []record{{ID: "a"}, {ID: "b"}}, got)
}

func TestLoad_CorruptLineNamed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n{\"id\":\"b\"}\n{not json\n"), 0o600))

	_, err := New[record](path).Load()
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.KindCorruptState))

	var corrupt *CorruptStateError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, 3, corrupt.Line)
	assert.Equal(t, path, corrupt.Path)
	assert.Contains(t, err.Error(), "line 3")
}

func TestSave_InterruptedKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")
	f := New[record](path)

	committed := []record{{ID: "s1", Count: 1}, {ID: "s2", Count: 2}}
	require.NoError(t, f.Save(committed))

	// Simulate the process dying after the temp file is written but before
	// it replaces the target.
	crash := errors.New("killed")
	f.beforeRename = func(tmpPath string) error {
		_, err := os.Stat(tmpPath)
		require.NoError(t, err)
		return crash
	}

	err := f.Save([]record{{ID: "s3"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crash))
	assert.True(t, herrors.Is(err, herrors.KindIO))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, committed, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be cleaned up")
}

func TestLoad_IgnoresLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")
	f := New[record](path)
	require.NoError(t, f.Save([]record{{ID: "kept"}}))

	// A half-written temp file from a killed process must not be read.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".records.jsonl.123.tmp"), []byte("{\"id\":\"par"), 0o600))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, []record{{ID: "kept"}}, got)
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archived.jsonl")
	f := New[record](path)

	require.NoError(t, f.Append(record{ID: "s1"}))
	require.NoError(t, f.Append(record{ID: "s2"}))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, []record{{ID: "s1"}, {ID: "s2"}}, got)
}

func TestReadWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")

	var missing map[string]int
	found, err := ReadJSON(path, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, WriteJSON(path, map[string]int{"s": 4}))

	var got map[string]int
	found, err = ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"s": 4}, got)
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	var got map[string]int
	_, err := ReadJSON(path, &got)
	assert.True(t, herrors.Is(err, herrors.KindCorruptState))
}

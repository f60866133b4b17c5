package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_NextPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	seq, err := OpenSequence(path)
	require.NoError(t, err)

	id, err := seq.Next(SessionPrefix)
	require.NoError(t, err)
	assert.Equal(t, "s1", id)
	id, err = seq.Next(BacklogPrefix)
	require.NoError(t, err)
	assert.Equal(t, "b1", id)

	reopened, err := OpenSequence(path)
	require.NoError(t, err)
	id, err = reopened.Next(SessionPrefix)
	require.NoError(t, err)
	assert.Equal(t, "s2", id)
}

func TestSequence_Observe(t *testing.T) {
	seq, err := OpenSequence(filepath.Join(t.TempDir(), "ids.json"))
	require.NoError(t, err)

	seq.Observe(SessionPrefix, "s3", "s10", "b99", "sx", "s", "s-4", "s0")
	assert.Equal(t, 10, seq.Current(SessionPrefix))
	assert.Zero(t, seq.Current(BacklogPrefix))

	seq.Observe(SessionPrefix, "s2")
	assert.Equal(t, 10, seq.Current(SessionPrefix), "observe never lowers a counter")
}

func TestSequence_FailedSaveKeepsCounter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.json")
	seq, err := OpenSequence(path)
	require.NoError(t, err)
	_, err = seq.Next(SessionPrefix)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o600))

	_, err = seq.Next(SessionPrefix)
	require.Error(t, err)
	assert.Equal(t, 1, seq.Current(SessionPrefix))
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		got, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("shipped")
	assert.Error(t, err)
}

func TestStage_Next(t *testing.T) {
	next, ok := StageOre.Next()
	assert.True(t, ok)
	assert.Equal(t, StageProcessing, next)

	next, ok = StageProcessing.Next()
	assert.True(t, ok)
	assert.Equal(t, StageShip, next)

	_, ok = StageShip.Next()
	assert.False(t, ok)
	_, ok = Stage("").Next()
	assert.False(t, ok)
}

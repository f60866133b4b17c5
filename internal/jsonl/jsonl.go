// Package jsonl persists ordered record collections as line-delimited JSON.
//
// Every Save rewrites the whole file through a temp file in the same
// directory followed by a rename, so readers only ever observe the previous
// complete file or the new complete file.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	herrors "github.com/zhubert/hopper/internal/errors"
)

// maxLineSize bounds a single persisted record.
const maxLineSize = 4 << 20

// CorruptStateError reports a persisted line that could not be decoded.
type CorruptStateError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state in %s at line %d: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// File is a line-delimited JSON file holding records of type T.
type File[T any] struct {
	path string
	perm os.FileMode

	// beforeRename runs after the temp file is complete but before it
	// replaces the target. Tests use it to simulate a crash mid-save.
	beforeRename func(tmpPath string) error
}

// New returns a File bound to path. The file is not touched until Load or Save.
func New[T any](path string) *File[T] {
	return &File[T]{path: path, perm: 0o600}
}

// Path returns the file location.
func (f *File[T]) Path() string {
	return f.path
}

// Load reads every record in file order. A missing file yields an empty
// slice. Blank lines are skipped; any other undecodable line fails the load
// with a CorruptStateError naming the line.
func (f *File[T]) Load() ([]T, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []T{}, nil
		}
		return nil, herrors.LoadFailed(f.path, err)
	}
	defer file.Close()

	records := []T{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, herrors.E(herrors.Op("jsonl.Load"), herrors.KindCorruptState,
				&CorruptStateError{Path: f.path, Line: line, Err: err})
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, herrors.E(herrors.Op("jsonl.Load"), herrors.KindCorruptState,
			&CorruptStateError{Path: f.path, Line: line + 1, Err: err})
	}
	return records, nil
}

// Save atomically replaces the file with records, one JSON object per line.
func (f *File[T]) Save(records []T) error {
	var buf bytes.Buffer
	for i := range records {
		data, err := json.Marshal(records[i])
		if err != nil {
			return herrors.SaveFailed(f.path, fmt.Errorf("encode record %d: %w", i, err))
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := writeAtomic(f.path, buf.Bytes(), f.perm, f.beforeRename); err != nil {
		return herrors.SaveFailed(f.path, err)
	}
	return nil
}

// Append adds one record to the end of the file without rewriting it.
func (f *File[T]) Append(record T) error {
	data, err := json.Marshal(record)
	if err != nil {
		return herrors.SaveFailed(f.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return herrors.SaveFailed(f.path, err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, f.perm)
	if err != nil {
		return herrors.SaveFailed(f.path, err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return herrors.SaveFailed(f.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return herrors.SaveFailed(f.path, err)
	}
	if err := file.Close(); err != nil {
		return herrors.SaveFailed(f.path, err)
	}
	return nil
}

// WriteJSON atomically writes v as an indented JSON document.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return herrors.SaveFailed(path, err)
	}
	if err := writeAtomic(path, append(data, '\n'), 0o600, nil); err != nil {
		return herrors.SaveFailed(path, err)
	}
	return nil
}

// ReadJSON decodes the JSON document at path into v. It reports
// found=false without error when the file does not exist.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, herrors.LoadFailed(path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, herrors.E(herrors.Op("jsonl.ReadJSON"), herrors.KindCorruptState,
			&CorruptStateError{Path: path, Line: 1, Err: err})
	}
	return true, nil
}

// writeAtomic writes data to a temp file next to path, syncs it and renames
// it over path. The temp file is removed on any failure.
func writeAtomic(path string, data []byte, perm os.FileMode, beforeRename func(string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if beforeRename != nil {
		if err = beforeRename(tmpPath); err != nil {
			return err
		}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename itself is durable.
// Failures are ignored: some filesystems refuse fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

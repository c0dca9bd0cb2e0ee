// Package statefile persists whole JSON documents on local disk.
//
// Every write goes to a temp file in the target directory and is renamed over
// the destination, so readers only ever observe a complete document. Mutations
// take an advisory lock on a sibling ".lock" file for the whole
// read-modify-write, which serialises concurrent invocations of the CLI.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteAtomic replaces path with data. The bytes are synced to a sibling temp
// file which is then renamed over path; on failure the temp file is removed
// and path is left untouched.
func WriteAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as pretty-printed JSON to path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return WriteAtomic(path, data)
}

// ReadJSON reads a JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// Mutation changes the document loaded by Update. Returning changed=false
// skips the write; a non-nil error aborts it and is returned from Update.
type Mutation func(exists bool) (changed bool, err error)

// Update performs a locked read-modify-write of the JSON document at path.
// When the file does not exist v is left as the caller initialised it and
// fn receives exists=false.
func Update(path string, v any, fn Mutation) error {
	lock, err := acquire(path, false)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	exists, err := load(path, v)
	if err != nil {
		return err
	}

	changed, err := fn(exists)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return WriteJSON(path, v)
}

// Read loads the document at path under a shared lock. It reports whether the
// file existed; a missing file is not an error.
func Read(path string, v any) (bool, error) {
	lock, err := acquire(path, true)
	if err != nil {
		return false, err
	}
	defer lock.Unlock()
	return load(path, v)
}

// Remove deletes the document at path under the exclusive lock. Removing a
// missing document is not an error.
func Remove(path string) error {
	lock, err := acquire(path, false)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func load(path string, v any) (bool, error) {
	if err := ReadJSON(path, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func acquire(path string, shared bool) (*flock.Flock, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	lock := flock.New(path + ".lock")
	if shared {
		err := lock.RLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		return lock, nil
	}
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return lock, nil
}

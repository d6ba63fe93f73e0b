// Package control implements the two files a project's control folder uses
// to coordinate a server across processes: the state file, written by the
// server to announce itself, and the requests file, which any process may
// append to and the server drains.
//
// Neither file is transactional. Readers must expect to see a file that is
// missing, empty, or half written and treat that as "nothing yet".
package control

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kingoftac/runway/internal/models"
)

const (
	serverDir        = "server"
	stateFileName    = "state.yaml"
	requestsFileName = "requests.yaml"
)

// ErrTornRead is returned when a control file exists but its content could
// not be used, most likely because a writer is halfway through it.
var ErrTornRead = errors.New("control file is incomplete or unreadable")

type StateFile struct {
	path string
}

func NewStateFile(controlDir string) *StateFile {
	return &StateFile{path: filepath.Join(controlDir, serverDir, stateFileName)}
}

func (f *StateFile) Path() string {
	return f.path
}

// Read returns the published snapshot. ok is false when no server has
// published one. Errors wrap ErrTornRead for content that is present but
// unusable.
func (f *StateFile) Read() (snapshot models.ServerSnapshot, ok bool, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.ServerSnapshot{}, false, nil
		}
		return models.ServerSnapshot{}, false, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return models.ServerSnapshot{}, false, fmt.Errorf("%w: %s is empty", ErrTornRead, f.path)
	}

	var s models.ServerSnapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return models.ServerSnapshot{}, false, fmt.Errorf("%w: %v", ErrTornRead, err)
	}
	if err := s.Validate(); err != nil {
		return models.ServerSnapshot{}, false, fmt.Errorf("%w: %v", ErrTornRead, err)
	}

	return s, true, nil
}

// Write publishes a snapshot. The content goes to a temporary file that is
// synced and renamed over the real one, so readers see either the old or the
// new snapshot.
func (f *StateFile) Write(s models.ServerSnapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move state file into place: %w", err)
	}
	return nil
}

// Clear removes the state file. Clearing a missing file is not an error.
func (f *StateFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

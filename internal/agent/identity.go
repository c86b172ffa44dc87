package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"aoi/internal/fileutil"
	"aoi/internal/protocol"
)

// IdentityStore persists the station's camera ID across restarts.
type IdentityStore struct {
	Path string
}

// Load returns the saved camera ID, or 0 when none has been set yet.
func (s IdentityStore) Load() (protocol.CameraID, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read camera id: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse camera id %q: %w", strings.TrimSpace(string(data)), err)
	}
	return protocol.CameraID(n), nil
}

func (s IdentityStore) Save(id protocol.CameraID) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create camera id dir: %w", err)
	}
	return fileutil.WriteAtomic(s.Path, []byte(strconv.Itoa(int(id))+"\n"), 0o644)
}

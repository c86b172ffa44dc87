// Package imagestore persists station images under a per-day, per-serial
// directory tree and counts what a session has on disk.
//
// Layout: <root>/<YYYYMMDD>/<serial>/<step>_<camera>_<operator>.jpg
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aoi/internal/fileutil"
	"aoi/internal/protocol"
	"aoi/internal/workflow"
)

var (
	ErrBlankSerial = errors.New("serial number is blank")
	ErrUnsafeName  = errors.New("name contains a path separator")
)

// Image is one received body plus the session context captured when it
// arrived.
type Image struct {
	Serial   string
	Operator string
	Step     workflow.Step
	CameraID protocol.CameraID
	Date     string
	Data     []byte
}

// DateKey formats t as the local-time directory name.
func DateKey(t time.Time) string {
	return t.Local().Format("20060102")
}

// Store writes images below Root.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// SessionDir returns the directory holding every image of serial on date.
func (s *Store) SessionDir(serial, date string) (string, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return "", ErrBlankSerial
	}
	if err := checkName(serial); err != nil {
		return "", fmt.Errorf("serial %q: %w", serial, err)
	}
	if err := checkName(date); err != nil || date == "" {
		return "", fmt.Errorf("date %q: invalid", date)
	}
	return filepath.Join(s.Root, date, serial), nil
}

// FileName is the deterministic name for an image within its session.
func FileName(step workflow.Step, camera protocol.CameraID, operator string) string {
	return fmt.Sprintf("%s_%d_%s.jpg", step, camera, operator)
}

// Path returns where img is stored.
func (s *Store) Path(img Image) (string, error) {
	dir, err := s.SessionDir(img.Serial, img.Date)
	if err != nil {
		return "", err
	}
	if err := checkName(img.Operator); err != nil {
		return "", fmt.Errorf("operator %q: %w", img.Operator, err)
	}
	return filepath.Join(dir, FileName(img.Step, img.CameraID, strings.TrimSpace(img.Operator))), nil
}

// Save writes img atomically, creating directories as needed, and returns the
// final path. Repeat saves of the same step, camera, and operator overwrite.
func (s *Store) Save(ctx context.Context, img Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.Path(img)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	if err := fileutil.WriteAtomic(path, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// Count returns the number of non-hidden regular files in the session
// directory. A session with no directory yet counts as zero.
func (s *Store) Count(serial, date string) (int, error) {
	dir, err := s.SessionDir(serial, date)
	if err != nil {
		return 0, err
	}
	n, err := fileutil.CountVisibleFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("count session files: %w", err)
	}
	return n, nil
}

func checkName(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrUnsafeName
	}
	return nil
}

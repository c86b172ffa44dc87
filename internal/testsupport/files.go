package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SeedSession writes n placeholder images into a session directory and
// returns the directory.
func SeedSession(t testing.TB, imageDir, date, serial string, n int) string {
	t.Helper()

	dir := filepath.Join(imageDir, date, serial)
	for i := 0; i < n; i++ {
		WriteFile(t, filepath.Join(dir, fmt.Sprintf("Seed_%d_op.jpg", i)), 4)
	}
	if n == 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return dir
}

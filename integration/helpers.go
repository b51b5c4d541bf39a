//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "runs.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// WriteScripts creates acquire and process script files in dir
func WriteScripts(t *testing.T, dir string) (acquire, process string) {
	t.Helper()
	acquire = filepath.Join(dir, "acquire.txt")
	process = filepath.Join(dir, "process.txt")
	for _, p := range []string{acquire, process} {
		if err := os.WriteFile(p, []byte("script\n"), 0644); err != nil {
			t.Fatalf("Failed to write script: %v", err)
		}
	}
	return acquire, process
}

// WriteSampleList writes a CSV sample list with the given sample names.
// Results go to outDir.
func WriteSampleList(t *testing.T, outDir string, names ...string) string {
	t.Helper()
	acquire, process := WriteScripts(t, t.TempDir())

	var b strings.Builder
	b.WriteString("Sample Name,Save Directory,Acquire Script,Process Script\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s,%s,%s,%s\n", name, outDir, acquire, process)
	}

	path := filepath.Join(t.TempDir(), "samples.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("Failed to write sample list: %v", err)
	}
	return path
}

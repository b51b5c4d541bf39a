// Package resultfile finds the acquisition result file for a sample. The
// analyzer may append a "YYYY-MM-DD HH-MM-SS" stamp to the file name, so
// stamped files are preferred and the most recent stamp wins.
package resultfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrNotFound is returned when no unambiguous result file exists
var ErrNotFound = errors.New("result file not found")

// Resolve picks the result file name for sample among directory entries
func Resolve(entries []string, sample, ext string) (string, error) {
	stamped := regexp.MustCompile(`^` + regexp.QuoteMeta(sample) +
		` \d{4}-\d{2}-\d{2} \d{2}-\d{2}-\d{2}` + regexp.QuoteMeta(ext) + `$`)

	var newest string
	for _, e := range entries {
		if stamped.MatchString(e) && e > newest {
			newest = e
		}
	}
	if newest != "" {
		return newest, nil
	}

	plain := sample + ext
	for _, e := range entries {
		if e == plain {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, plain)
}

// ResolveDir resolves against the files in dir and returns the full path
func ResolveDir(dir, sample, ext string) (string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	name, err := Resolve(names, sample, ext)
	if err != nil {
		return "", fmt.Errorf("%w in %s", err, dir)
	}
	return filepath.Join(dir, name), nil
}

package httpcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMirrorRoot is where export-mirror writes and mirror-server reads.
const DefaultMirrorRoot = "data/mirror"

// MirrorPath is the file holding one partition: <root>/<key>/<title>.csv,
// both parts path-escaped. An empty title maps to "_first.csv".
func MirrorPath(root, key, title string) string {
	name := "_first"
	if title != "" {
		name = url.PathEscape(title)
	}
	return filepath.Join(root, url.PathEscape(key), name+".csv")
}

// ResolveMirror finds the file for key/title. An empty title picks the
// "_first.csv" file if present, else the alphabetically first partition.
func ResolveMirror(root, key, title string) (string, error) {
	p := MirrorPath(root, key, title)
	if _, err := os.Stat(p); err == nil || title != "" {
		return p, err
	}
	entries, err := os.ReadDir(filepath.Join(root, url.PathEscape(key)))
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no partitions for %s: %w", key, os.ErrNotExist)
	}
	sort.Strings(names)
	return filepath.Join(root, url.PathEscape(key), names[0]), nil
}

// ReadCSV reads every record of r, tolerating ragged rows.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.ReadAll()
}

// WriteCSVFile writes records to path, creating parent directories.
func WriteCSVFile(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return err
	}
	return f.Close()
}

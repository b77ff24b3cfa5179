// Package report persists aggregated collection reports.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lincot/metaplex-collection-scraper/internal/aggregate"
)

// ext is the report file extension.
const ext = ".json"

// Writer stores reports as JSON files in one directory.
type Writer struct {
	Dir string // Dir is created on first write
}

// Path returns where the report called name is stored.
func (w Writer) Path(name string) string {
	return filepath.Join(w.Dir, name+ext)
}

// Write stores r as Dir/<name>.json, replacing any previous report.
// The file is written to a temporary name first so readers never see a
// partial document.
func (w Writer) Write(name string, r *aggregate.Report) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode report:\n%w", err)
	}

	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory:\n%w", err)
	}

	tmp, err := os.CreateTemp(w.Dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file:\n%w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report:\n%w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report:\n%w", err)
	}

	path := w.Path(name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename report:\n%w", err)
	}

	return path, nil
}

// Load reads the report called name.
func (w Writer) Load(name string) (*aggregate.Report, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}

	return Load(w.Path(name))
}

// List returns the names of every stored report, sorted.
// A missing directory holds no reports.
func (w Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output directory:\n%w", err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, ext) || strings.HasPrefix(n, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ext))
	}
	sort.Strings(names)

	return names, nil
}

// Load reads a report file.
func Load(path string) (*aggregate.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r aggregate.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s:\n%w", path, err)
	}

	return &r, nil
}

// ValidName rejects names that would escape the output directory.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid report name %q", name)
	}

	return nil
}

// Package report writes tag analysis results to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/tally/internal/analysis"
	"github.com/yairfalse/tally/internal/policy"
	"github.com/yairfalse/tally/pkg/resource"
)

// TimestampFormat stamps every report file name.
const TimestampFormat = "20060102_150405"

// CSVHeader is the fixed column set of the CSV export.
var CSVHeader = []string{"AccountID", "Service", "Region", "ResourceType", "ResourceID", "TagKey", "TagValue"}

// Input is everything a report run produces.
type Input struct {
	Resources  []resource.Descriptor
	Summary    *analysis.Summary
	Detailed   *analysis.Detailed
	Compliance *analysis.Compliance
	Policy     *policy.Report
}

// Files are the paths written by one run. Optional reports are empty when
// not produced.
type Files struct {
	Summary    string
	Detailed   string
	CSV        string
	Compliance string
	Policy     string
}

// All returns the written paths in a stable order.
func (f Files) All() []string {
	var paths []string
	for _, p := range []string{f.Summary, f.Detailed, f.CSV, f.Compliance, f.Policy} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Writer writes timestamped report files into a directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates the report directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

// Dir returns the report directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write writes the summary, detailed and CSV reports, plus the compliance and
// policy reports when present.
func (w *Writer) Write(in Input) (Files, error) {
	ts := w.now().Format(TimestampFormat)
	var files Files

	files.Summary = filepath.Join(w.dir, fmt.Sprintf("tag-report-summary-%s.json", ts))
	if err := writeJSON(files.Summary, in.Summary); err != nil {
		return files, err
	}

	files.Detailed = filepath.Join(w.dir, fmt.Sprintf("tag-report-detailed-%s.json", ts))
	if err := writeJSON(files.Detailed, in.Detailed); err != nil {
		return files, err
	}

	files.CSV = filepath.Join(w.dir, fmt.Sprintf("tag-report-%s.csv", ts))
	if err := writeCSV(files.CSV, in.Resources); err != nil {
		return files, err
	}

	if in.Compliance != nil {
		files.Compliance = filepath.Join(w.dir, fmt.Sprintf("tag-compliance-%s.json", ts))
		if err := writeJSON(files.Compliance, in.Compliance); err != nil {
			return files, err
		}
	}

	if in.Policy != nil {
		files.Policy = filepath.Join(w.dir, fmt.Sprintf("tag-policy-%s.json", ts))
		if err := writeJSON(files.Policy, in.Policy); err != nil {
			return files, err
		}
	}

	return files, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeCSV writes one row per tag, in resource order.
func writeCSV(path string, resources []resource.Descriptor) (err error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range resources {
		for _, tag := range r.Tags {
			row := []string{r.AccountID, r.Service, r.Region, r.ResultField, r.ResourceID, tag.Key, tag.Value}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

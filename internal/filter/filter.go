package filter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"usageprep/internal/event"

	"gopkg.in/yaml.v3"
)

// AppFilter maps package names to the application labels that mark an app
// as filtered (e.g. launchers or system UI the study is not interested in).
type AppFilter struct {
	labels map[string][]string
}

// Mismatch is a filtered package observed with a label outside its list.
type Mismatch struct {
	AppPackageName   string
	ApplicationLabel string
	Expected         []string
}

func New(entries map[string]string) *AppFilter {
	f := &AppFilter{labels: make(map[string][]string, len(entries))}
	for pkg, labels := range entries {
		f.add(pkg, labels)
	}
	return f
}

func (f *AppFilter) add(pkg, labels string) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return
	}
	for _, l := range strings.Split(labels, ",") {
		if l = strings.TrimSpace(l); l != "" {
			f.labels[pkg] = append(f.labels[pkg], l)
		}
	}
	if _, ok := f.labels[pkg]; !ok {
		f.labels[pkg] = nil
	}
}

func (f *AppFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.labels)
}

// Load reads a filter file. CSV files use the app_package_name and
// application_label columns, or the first two columns when those are
// absent; YAML files map package names to a comma-separated label string.
func Load(path string) (*AppFilter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML(file)
	case ".csv":
		return decodeCSV(file)
	default:
		return nil, fmt.Errorf("unsupported filter file type %q", filepath.Ext(path))
	}
}

func decodeYAML(r io.Reader) (*AppFilter, error) {
	var entries map[string]string
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode filter yaml: %w", err)
	}
	return New(entries), nil
}

func decodeCSV(r io.Reader) (*AppFilter, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read filter header: %w", err)
	}
	pkgCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "app_package_name":
			pkgCol = i
		case "application_label":
			labelCol = i
		}
	}
	if pkgCol < 0 || labelCol < 0 {
		if len(header) < 2 {
			return nil, fmt.Errorf("filter file must have at least two columns (package name and app label)")
		}
		pkgCol, labelCol = 0, 1
	}

	f := &AppFilter{labels: make(map[string][]string)}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read filter row: %w", err)
		}
		if pkgCol >= len(rec) || labelCol >= len(rec) {
			continue
		}
		f.add(rec[pkgCol], rec[labelCol])
	}
	return f, nil
}

// Apply rewrites the lifecycle types of filtered apps to their Filtered
// counterparts. A filtered package seen with an unexpected label is left
// unchanged and reported once per (package, label).
func (f *AppFilter) Apply(events []event.Event, logger *slog.Logger) []Mismatch {
	if f.Len() == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	var mismatches []Mismatch
	reported := make(map[[2]string]bool)
	for i := range events {
		e := &events[i]
		expected, ok := f.labels[e.AppPackageName]
		if !ok {
			continue
		}
		if !containsLabel(expected, e.ApplicationLabel) {
			key := [2]string{e.AppPackageName, e.ApplicationLabel}
			if !reported[key] {
				reported[key] = true
				logger.Warn("application label does not match filter",
					"app", e.AppPackageName, "label", e.ApplicationLabel, "expected", expected)
				mismatches = append(mismatches, Mismatch{
					AppPackageName:   e.AppPackageName,
					ApplicationLabel: e.ApplicationLabel,
					Expected:         expected,
				})
			}
			continue
		}
		e.Type = e.Type.Filtered()
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].AppPackageName != mismatches[j].AppPackageName {
			return mismatches[i].AppPackageName < mismatches[j].AppPackageName
		}
		return mismatches[i].ApplicationLabel < mismatches[j].ApplicationLabel
	})
	return mismatches
}

// An empty label list accepts any label.
func containsLabel(labels []string, label string) bool {
	if len(labels) == 0 {
		return true
	}
	label = strings.TrimSpace(label)
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

package collector

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"usageprep/internal/event"
)

// Collector reads one participant's raw Chronicle events from a source.
type Collector interface {
	Collect(ctx context.Context, path string) ([]event.RawEvent, error)
}

// Matcher decides which files in a raw data folder are participant exports.
type Matcher struct {
	pattern *regexp.Regexp
	ignore  []string
}

func NewMatcher(pattern string, ignore []string) (*Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: re, ignore: ignore}, nil
}

// Match reports whether a file name is a raw export. Names containing any
// ignore string (case-insensitive) are rejected.
func (m *Matcher) Match(path string) bool {
	name := filepath.Base(path)
	return !m.Ignored(name) && m.pattern.MatchString(name)
}

// Discover walks folder and its subfolders for matching files, sorted by path.
func (m *Matcher) Discover(folder string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != folder && m.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if m.Match(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", folder, err)
	}
	sort.Strings(files)
	return files, nil
}

// Ignored reports whether name contains one of the ignore strings.
func (m *Matcher) Ignored(name string) bool {
	lower := strings.ToLower(name)
	for _, ig := range m.ignore {
		if ig != "" && strings.Contains(lower, strings.ToLower(ig)) {
			return true
		}
	}
	return false
}

package preprocess

import (
	"sort"
	"sync"
)

// Stats tracks file outcomes across a run. It is safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	total     int
	processed int
	failed    int
	empty     int
	errors    map[string]string
	warnings  map[string][]string
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	TotalFiles     int                 `json:"total_files"`
	ProcessedFiles int                 `json:"processed_files"`
	FailedFiles    int                 `json:"failed_files"`
	EmptyFiles     int                 `json:"empty_files"`
	Errors         map[string]string   `json:"errors,omitempty"`
	Warnings       map[string][]string `json:"warnings,omitempty"`
}

func NewStats() *Stats {
	return &Stats{errors: make(map[string]string), warnings: make(map[string][]string)}
}

func (s *Stats) AddTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += n
}

func (s *Stats) MarkProcessed(file string, warnings []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if len(warnings) > 0 {
		s.warnings[file] = append(s.warnings[file], warnings...)
	}
}

func (s *Stats) MarkEmpty(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.empty++
	s.warnings[file] = append(s.warnings[file], "no valid app usage data")
}

func (s *Stats) MarkFailed(file string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.errors[file] = err.Error()
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		TotalFiles:     s.total,
		ProcessedFiles: s.processed,
		FailedFiles:    s.failed,
		EmptyFiles:     s.empty,
		Errors:         make(map[string]string, len(s.errors)),
		Warnings:       make(map[string][]string, len(s.warnings)),
	}
	for k, v := range s.errors {
		snap.Errors[k] = v
	}
	for k, v := range s.warnings {
		snap.Warnings[k] = append([]string(nil), v...)
	}
	return snap
}

// FailedNames lists files with errors in name order.
func (s Snapshot) FailedNames() []string {
	names := make([]string, 0, len(s.Errors))
	for n := range s.Errors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package telemetry

import (
	"sync"
	"time"
)

// Snapshot keeps the latest sample per metric together with the last
// collected system info and package list. It is safe for concurrent use.
type Snapshot struct {
	mu       sync.RWMutex
	samples  map[Metric]Sample
	rows     []Row
	packages []Package
	updated  time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{samples: make(map[Metric]Sample)}
}

// Update stores s. It has the signature of a Sampler sink.
func (s *Snapshot) Update(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.Metric] = sample
	if sample.Time.After(s.updated) {
		s.updated = sample.Time
	}
}

// Get returns the latest sample of m.
func (s *Snapshot) Get(m Metric) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.samples[m]
	return v, ok
}

// Samples returns the latest samples in Metrics order.
func (s *Snapshot) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, len(s.samples))
	for _, m := range Metrics {
		if v, ok := s.samples[m]; ok {
			out = append(out, v)
		}
	}
	return out
}

// SetRows replaces the system info rows.
func (s *Snapshot) SetRows(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append([]Row(nil), rows...)
}

// Rows returns a copy of the system info rows.
func (s *Snapshot) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Row(nil), s.rows...)
}

// SetPackages replaces the package list.
func (s *Snapshot) SetPackages(pkgs []Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages = append([]Package(nil), pkgs...)
}

// Packages returns a copy of the package list.
func (s *Snapshot) Packages() []Package {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Package(nil), s.packages...)
}

// Updated is the time of the newest sample.
func (s *Snapshot) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Reset forgets everything, for a new session.
func (s *Snapshot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = make(map[Metric]Sample)
	s.rows = nil
	s.packages = nil
	s.updated = time.Time{}
}

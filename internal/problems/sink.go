package problems

import "sync"

// Sink collects problems from concurrent scan tasks. Reporting an equal problem twice is a no-op.
type Sink struct {
	mu       sync.Mutex
	problems map[Problem]struct{}
}

// NewSink creates an empty sink scoped to one scan.
func NewSink() *Sink {
	return &Sink{problems: make(map[Problem]struct{})}
}

// Report adds p and reports whether it was new.
func (s *Sink) Report(p Problem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.problems[p]; ok {
		return false
	}
	s.problems[p] = struct{}{}
	return true
}

// Len returns the number of distinct problems.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.problems)
}

// Problems returns the collected problems in report order.
func (s *Sink) Problems(vaultRoot string) []Problem {
	s.mu.Lock()
	out := make([]Problem, 0, len(s.problems))
	for p := range s.problems {
		out = append(out, p)
	}
	s.mu.Unlock()

	Sort(out, vaultRoot)
	return out
}

package crawler

import "sync"

// VisitedSet records identity keys captured in one session.
// Empty keys are never recorded and never reported as duplicates.
type VisitedSet struct {
	mu      sync.Mutex
	visited map[string]bool
}

// NewVisitedSet creates an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{
		visited: make(map[string]bool),
	}
}

// IsDuplicate reports whether key was already marked.
func (v *VisitedSet) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visited[key]
}

// MarkSeen records key.
func (v *VisitedSet) MarkSeen(key string) {
	if key == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visited[key] = true
}

// Add marks key and reports whether it was new.
func (v *VisitedSet) Add(key string) bool {
	if key == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.visited[key] {
		return false
	}
	v.visited[key] = true
	return true
}

// Len returns the number of recorded keys.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.visited)
}

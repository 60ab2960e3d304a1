package identity

import "sync"

// Static answers IsCaller/IsAdmin from configured identity sets. Admins are
// always callers. Update swaps both sets atomically, so a config reload never
// exposes a half-applied view.
type Static struct {
	mu      sync.RWMutex
	admins  map[string]bool
	callers map[string]bool
	open    bool
}

// NewStatic creates an oracle. When callers is empty every non-empty identity
// is accepted as a caller.
func NewStatic(admins, callers []string) *Static {
	s := &Static{}
	s.Update(admins, callers)
	return s
}

// Update replaces the admin and caller sets.
func (s *Static) Update(admins, callers []string) {
	am := make(map[string]bool, len(admins))
	for _, a := range admins {
		am[a] = true
	}
	cm := make(map[string]bool, len(callers))
	for _, c := range callers {
		cm[c] = true
	}
	s.mu.Lock()
	s.admins, s.callers, s.open = am, cm, len(callers) == 0
	s.mu.Unlock()
}

// IsCaller reports whether id may invoke operations at all.
func (s *Static) IsCaller(id string) bool {
	if id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open || s.callers[id] || s.admins[id]
}

// IsAdmin reports whether id holds the admin role.
func (s *Static) IsAdmin(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[id]
}

// AllowAll treats every non-empty identity as an admin. Audit replay uses it
// because the original authorization decisions were already made.
type AllowAll struct{}

func (AllowAll) IsCaller(id string) bool { return id != "" }
func (AllowAll) IsAdmin(id string) bool  { return id != "" }

package safety

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Restrictions is the active Safety Restrictions record: the data-model
// counterpart to the evaluator's runtime posture. Exactly one record is
// active at a time; RestrictionsStore replaces it atomically.
type Restrictions struct {
	RestrictionID      string
	SecurityMode       SecurityMode
	AllowedCommands    []string
	BlockedCommands    []string
	AllowedDirectories []string
	MaxExecutionTime   int
	MaxMemoryMB        int
	EnableNetwork      bool
	ConfiguredAt       time.Time
}

// RestrictionsStore holds the single active Restrictions record behind an
// atomic pointer, so readers never observe a torn write and replacement
// never blocks a concurrent read.
type RestrictionsStore struct {
	ptr atomic.Pointer[Restrictions]
}

// NewRestrictionsStore creates a store seeded with an initial record.
func NewRestrictionsStore(mode SecurityMode) *RestrictionsStore {
	s := &RestrictionsStore{}
	s.Set(Restrictions{
		RestrictionID: uuid.NewString(),
		SecurityMode:  mode,
		ConfiguredAt:  time.Now().UTC(),
	})
	return s
}

// Get returns the currently active record.
func (s *RestrictionsStore) Get() Restrictions {
	return *s.ptr.Load()
}

// Set atomically replaces the active record. ConfiguredAt and
// RestrictionID are assigned here so callers only supply policy fields.
func (s *RestrictionsStore) Set(r Restrictions) Restrictions {
	if r.RestrictionID == "" {
		r.RestrictionID = uuid.NewString()
	}
	if r.ConfiguredAt.IsZero() {
		r.ConfiguredAt = time.Now().UTC()
	}
	s.ptr.Store(&r)
	return r
}

// matchesAny reports whether command contains any of patterns as a
// case-insensitive substring. Restriction lists are operator-configured
// command fragments, not regular expressions, unlike the classifier's
// regex rule table.
func matchesAny(patterns []string, command string) bool {
	lower := strings.ToLower(command)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

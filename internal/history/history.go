// Package history implements the Command History: a bounded in-memory
// ring of past executions with search, similarity lookup, and best-effort
// confirmation-pattern learning. Cross-process persistence is explicitly
// out of scope (spec.md Non-goals) — the SQLite snapshot in snapshot.go
// is a best-effort warm-start convenience, never authoritative.
package history

import (
	"strings"
	"sync"
	"time"
)

// ConfirmationContext records a user's response to a NEED_USER_CONFIRM
// safety outcome, used for pattern learning.
type ConfirmationContext struct {
	Prompt     string
	Response   bool
	Reasoning  string
	Confidence int // 1-5
	Timestamp  time.Time
}

// Entry is one Command History record.
type Entry struct {
	ExecutionID          string
	Command              string
	Timestamp            time.Time
	WorkingDirectory     string
	SafetyClassification string
	WasExecuted          bool
	ResubmissionCount    int
	OutputSummary        string
	UserConfirmation     *ConfirmationContext
}

// Ring is a bounded, thread-safe ring buffer of Entry, oldest evicted
// first once capacity is reached.
type Ring struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry // logical order oldest..newest
}

// New creates a Ring with the given capacity, clamped to [100, 10000]
// per spec.md's configurable range.
func New(capacity int) *Ring {
	if capacity < 100 {
		capacity = 100
	}
	if capacity > 10000 {
		capacity = 10000
	}
	return &Ring{capacity: capacity}
}

// Add appends a new entry, evicting the oldest if at capacity.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, e)
}

// Len returns the current number of entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Update mutates the entry for executionID in place via fn, if found.
func (r *Ring) Update(executionID string, fn func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ExecutionID == executionID {
			fn(&r.entries[i])
			return true
		}
	}
	return false
}

// FindLastByCommand returns the most recent entry for an exact command
// string match, used to detect resubmission of a previously-denied
// command.
func (r *Ring) FindLastByCommand(command string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Command == command {
			return r.entries[i], true
		}
	}
	return Entry{}, false
}

// IncrementResubmission bumps ResubmissionCount for the given entry.
func (r *Ring) IncrementResubmission(executionID string) {
	r.Update(executionID, func(e *Entry) { e.ResubmissionCount++ })
}

// SearchFilter narrows a Search call.
type SearchFilter struct {
	Query  string
	Limit  int
	Offset int
}

// Search returns entries whose command contains Query (case-insensitive),
// newest first, paginated by Limit/Offset. It also returns the total
// number of matches before pagination.
func (r *Ring) Search(f SearchFilter) ([]Entry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []Entry
	q := strings.ToLower(f.Query)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if q == "" || strings.Contains(strings.ToLower(r.entries[i].Command), q) {
			matches = append(matches, r.entries[i])
		}
	}

	total := len(matches)
	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total
}

// FindSimilar returns entries sharing the normalized command prefix with
// command (see normalizedPrefix), most recent first.
func (r *Ring) FindSimilar(command string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := normalizedPrefix(command)
	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if normalizedPrefix(r.entries[i].Command) == prefix {
			out = append(out, r.entries[i])
		}
	}
	return out
}

// Prediction is the result of PredictUserConfirmation.
type Prediction struct {
	Likely     bool
	Confidence float64
	Patterns   []string
}

// PredictUserConfirmation groups history entries by normalized command
// prefix and aggregates the confirmation rate for that group, returning
// a best-effort prediction for whether a user would approve `command`.
// This is advisory pattern-learning analytics only — it must never gate
// execution (spec.md §9).
func (r *Ring) PredictUserConfirmation(command string) Prediction {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := normalizedPrefix(command)
	var total, approved int
	var patterns []string
	for _, e := range r.entries {
		if normalizedPrefix(e.Command) != prefix {
			continue
		}
		if e.UserConfirmation == nil {
			continue
		}
		total++
		if e.UserConfirmation.Response {
			approved++
		}
		patterns = append(patterns, e.Command)
	}

	if total == 0 {
		return Prediction{Likely: false, Confidence: 0}
	}

	rate := float64(approved) / float64(total)
	return Prediction{
		Likely:     rate >= 0.5,
		Confidence: rate,
		Patterns:   dedupe(patterns),
	}
}

// Stats summarizes the ring's current contents.
type Stats struct {
	Total       int
	Capacity    int
	Executed    int
	Denied      int
	Resubmitted int
}

// Stats computes aggregate counters over the current ring contents.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Total: len(r.entries), Capacity: r.capacity}
	for _, e := range r.entries {
		if e.WasExecuted {
			s.Executed++
		}
		if e.SafetyClassification == "DENY" {
			s.Denied++
		}
		if e.ResubmissionCount > 0 {
			s.Resubmitted++
		}
	}
	return s
}

// Snapshot returns a copy of all entries in oldest-to-newest order, for
// the best-effort SQLite snapshot writer.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Restore replaces the ring's contents, used when loading a best-effort
// snapshot at startup. Entries beyond capacity are dropped, oldest first.
func (r *Ring) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(entries) > r.capacity {
		entries = entries[len(entries)-r.capacity:]
	}
	r.entries = append([]Entry(nil), entries...)
}

// normalizedPrefix groups commands by their first whitespace-delimited
// token, which is a reasonable proxy for "the same kind of command"
// without parsing full shell grammar.
func normalizedPrefix(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

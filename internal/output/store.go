// Package output implements the content-addressed Output Store: the
// append-only byte-blob archive that backs captured stdout/stderr and
// serves as the pipeline substrate for chaining executions together.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/mcp-shell-server/internal/apperr"
)

// Kind identifies what an artifact holds.
type Kind string

const (
	KindStdout   Kind = "stdout"
	KindStderr   Kind = "stderr"
	KindCombined Kind = "combined"
	KindLog      Kind = "log"
)

// Artifact is the in-memory index record for one on-disk output blob.
// Byte payload lives under Store.root; Artifact never holds it in memory.
type Artifact struct {
	ID          string
	Kind        Kind
	Name        string
	Size        int64
	ExecutionID string
	CreatedAt   time.Time
	finalized   bool
}

// Handle is returned by Create and used by Append/Finalize to write to a
// single artifact's backing file. Only the Supervisor worker for the
// owning execution should hold a Handle — the store enforces single-writer
// discipline by construction, not by locking the file.
type Handle struct {
	id string
	f  *os.File
}

// Store owns the Output Artifact table and the on-disk root that backs it.
// Mutations serialize through mu; already-registered identifiers can be
// read without taking mu for the byte payload (readers open their own
// file handles).
type Store struct {
	root string

	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.System("OUTPUT_ROOT", "failed to create output root", err)
	}
	return &Store{root: dir, artifacts: make(map[string]*Artifact)}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".bin")
}

// Create allocates a new artifact and returns a Handle for appending bytes
// to it. executionID may be empty for manually created artifacts.
func (s *Store) Create(executionID string, kind Kind, name string) (*Artifact, *Handle, error) {
	id := uuid.NewString()
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, apperr.System("OUTPUT_CREATE", "failed to create output artifact", err)
	}

	a := &Artifact{
		ID:          id,
		Kind:        kind,
		Name:        name,
		ExecutionID: executionID,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.artifacts[id] = a
	s.mu.Unlock()

	return a, &Handle{id: id, f: f}, nil
}

// Append writes bytes to the artifact's backing file. Bytes appended to a
// non-finalized artifact are visible to readers monotonically: a reader
// sees a prefix of the eventual final content.
func (s *Store) Append(h *Handle, p []byte) error {
	if _, err := h.f.Write(p); err != nil {
		return apperr.System("OUTPUT_APPEND", "failed to append output bytes", err)
	}

	s.mu.Lock()
	if a, ok := s.artifacts[h.id]; ok {
		a.Size += int64(len(p))
	}
	s.mu.Unlock()

	return nil
}

// Finalize closes the backing file and marks the artifact complete.
func (s *Store) Finalize(h *Handle) error {
	s.mu.Lock()
	if a, ok := s.artifacts[h.id]; ok {
		a.finalized = true
	}
	s.mu.Unlock()

	if err := h.f.Close(); err != nil {
		return apperr.System("OUTPUT_FINALIZE", "failed to finalize output artifact", err)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	ExecutionID string
	Kind        Kind
}

// List returns artifacts matching filter, newest first.
func (s *Store) List(filter Filter) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		if filter.ExecutionID != "" && a.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Kind != "" && a.Kind != filter.Kind {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns the artifact record for id.
func (s *Store) Get(id string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return Artifact{}, false
	}
	return *a, true
}

// Read returns up to size bytes starting at offset from the artifact id.
// It opens its own file handle, so it is safe to call concurrently with an
// in-progress Append by the owning writer.
func (s *Store) Read(id string, offset, size int64) ([]byte, error) {
	if _, ok := s.Get(id); !ok {
		return nil, apperr.Resource("OUTPUT_NOT_FOUND", fmt.Sprintf("output %s not found", id))
	}

	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, apperr.System("OUTPUT_READ", "failed to open output artifact", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, apperr.System("OUTPUT_READ", "failed to seek output artifact", err)
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperr.System("OUTPUT_READ", "failed to read output artifact", err)
	}
	return buf[:n], nil
}

// Delete removes artifacts by id. confirm must be true or the call fails
// with PARAM and changes nothing — this mirrors spec.md's explicit-confirm
// invariant for a destructive operation.
func (s *Store) Delete(ids []string, confirm bool) error {
	if !confirm {
		return apperr.Param("OUTPUT_DELETE_CONFIRM", "delete requires confirm=true")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.artifacts[id]; !ok {
			continue
		}
		_ = os.Remove(s.path(id))
		delete(s.artifacts, id)
	}
	return nil
}

// CleanupSuggestion describes one artifact a caller may want to remove.
type CleanupSuggestion struct {
	ID      string
	Size    int64
	AgeSecs float64
	Reason  string
}

// GetCleanupSuggestions proposes artifacts for deletion based on age and
// size thresholds. It never deletes anything itself.
func (s *Store) GetCleanupSuggestions(maxSizeMB, maxAgeHours float64) []CleanupSuggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []CleanupSuggestion
	for _, a := range s.artifacts {
		ageHours := now.Sub(a.CreatedAt).Hours()
		sizeMB := float64(a.Size) / (1024 * 1024)

		var reasons []string
		if maxAgeHours > 0 && ageHours > maxAgeHours {
			reasons = append(reasons, "age")
		}
		if maxSizeMB > 0 && sizeMB > maxSizeMB {
			reasons = append(reasons, "size")
		}
		if len(reasons) == 0 {
			continue
		}
		out = append(out, CleanupSuggestion{
			ID:      a.ID,
			Size:    a.Size,
			AgeSecs: now.Sub(a.CreatedAt).Seconds(),
			Reason:  joinReasons(reasons),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgeSecs > out[j].AgeSecs })
	return out
}

func joinReasons(r []string) string {
	out := r[0]
	for _, x := range r[1:] {
		out += "+" + x
	}
	return out
}

// AutoCleanupResult summarizes a perform_auto_cleanup run.
type AutoCleanupResult struct {
	Deleted     []string
	TotalFreed  int64
	DryRun      bool
}

// PerformAutoCleanup deletes artifacts older than maxAgeHours, preserving
// the preserveRecent most-recently-created artifacts regardless of age.
// With dryRun=true nothing is deleted; the result reports what would be.
func (s *Store) PerformAutoCleanup(maxAgeHours float64, dryRun bool, preserveRecent int) AutoCleanupResult {
	s.mu.Lock()
	all := make([]*Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		all = append(all, a)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if preserveRecent > len(all) {
		preserveRecent = len(all)
	}
	candidates := all[preserveRecent:]

	now := time.Now().UTC()
	var toDelete []string
	var freed int64
	for _, a := range candidates {
		if now.Sub(a.CreatedAt).Hours() <= maxAgeHours {
			continue
		}
		toDelete = append(toDelete, a.ID)
		freed += a.Size
	}

	if !dryRun && len(toDelete) > 0 {
		_ = s.Delete(toDelete, true)
	}

	return AutoCleanupResult{Deleted: toDelete, TotalFreed: freed, DryRun: dryRun}
}

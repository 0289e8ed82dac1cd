package ptysession

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// ForegroundProcess is a discovery snapshot of the process currently
// holding the PTY's controlling terminal foreground.
type ForegroundProcess struct {
	Available     bool
	Error         string
	PID           int32
	Name          string
	ExecutablePath string
	SessionID     int32
	ParentPID     int32
	IsSessionLeader bool
	CPUPercent    float64
	MemoryRSSBytes uint64
}

const (
	processIdentityCacheTTL    = 1 * time.Second
	foregroundSelectionCacheTTL = 5 * time.Second
)

// discoverer performs foreground-process discovery for one PTY session,
// reading /proc to find the most recently started descendant of the
// shell pid that shares its session id. Errors fail closed: callers
// must treat Available=false as "cannot establish identity" and reject
// guarded sends.
type discoverer struct {
	shellPID int
	sid      int32

	mu              sync.Mutex
	identityCache   map[int32]procIdentity
	identityCachedAt time.Time
	selection       ForegroundProcess
	selectionCachedAt time.Time
}

type procIdentity struct {
	pid        int32
	ppid       int32
	sid        int32
	comm       string
	exe        string
	startTicks uint64
}

func newDiscoverer(shellPID int) *discoverer {
	return &discoverer{shellPID: shellPID}
}

// invalidate drops the cached foreground selection so the next snapshot
// redoes selection, used after an explicit input-send per spec.md's
// cache-invalidation rule. The 1s process-identity cache is kept, so
// /proc is re-read only once that cache has expired.
func (d *discoverer) invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selectionCachedAt = time.Time{}
}

// snapshot returns the current foreground-process identity, honoring
// the 1s identity cache and 5s selection cache.
func (d *discoverer) snapshot() ForegroundProcess {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.selectionCachedAt) < foregroundSelectionCacheTTL {
		return d.selection
	}

	fg, err := d.discoverLocked()
	if err != nil {
		d.selection = ForegroundProcess{Available: false, Error: err.Error()}
	} else {
		d.selection = fg
	}
	d.selectionCachedAt = time.Now()
	return d.selection
}

func (d *discoverer) discoverLocked() (ForegroundProcess, error) {
	if time.Since(d.identityCachedAt) >= processIdentityCacheTTL || d.identityCache == nil {
		idents, err := readAllProcIdentities()
		if err != nil {
			return ForegroundProcess{}, err
		}
		d.identityCache = idents
		d.identityCachedAt = time.Now()
	}

	shellIdent, ok := d.identityCache[int32(d.shellPID)]
	if !ok {
		return ForegroundProcess{}, fmt.Errorf("shell pid %d not found in /proc", d.shellPID)
	}
	sid := shellIdent.sid

	var best *procIdentity
	for pid, ident := range d.identityCache {
		if ident.sid != sid {
			continue
		}
		if best == nil || ident.startTicks > best.startTicks || (ident.startTicks == best.startTicks && pid > best.pid) {
			identCopy := ident
			best = &identCopy
		}
	}
	if best == nil {
		return ForegroundProcess{}, fmt.Errorf("no process found in session %d", sid)
	}

	fg := ForegroundProcess{
		Available:       true,
		PID:             best.pid,
		Name:            best.comm,
		ExecutablePath:  best.exe,
		SessionID:       best.sid,
		ParentPID:       best.ppid,
		IsSessionLeader: best.pid == sid,
	}

	if p, err := gopsprocess.NewProcess(best.pid); err == nil {
		if cpu, err := p.CPUPercent(); err == nil {
			fg.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			fg.MemoryRSSBytes = mem.RSS
		}
	}

	return fg, nil
}

// readAllProcIdentities reads every numeric entry under /proc into a
// process-identity tuple. Any unreadable entry is skipped (processes
// exit between readdir and read); total failure to open /proc is
// reported as an error so discovery fails closed.
func readAllProcIdentities() (map[int32]procIdentity, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	out := make(map[int32]procIdentity)
	for _, e := range entries {
		pid64, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		pid := int32(pid64)

		ident, err := readProcIdentity(pid)
		if err != nil {
			continue
		}
		out[pid] = ident
	}
	return out, nil
}

func readProcIdentity(pid int32) (procIdentity, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return procIdentity{}, err
	}

	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	f, err := os.Open(statPath)
	if err != nil {
		return procIdentity{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		return procIdentity{}, fmt.Errorf("empty %s", statPath)
	}
	fields := strings.Fields(scanner.Text())
	// field[1] is "(comm)" which may itself contain spaces; the stable
	// fields we need (ppid, session, starttime) are addressed from the
	// end of the line per proc(5).
	if len(fields) < 22 {
		return procIdentity{}, fmt.Errorf("short stat line for pid %d", pid)
	}
	closeParen := -1
	for i, f := range fields {
		if strings.HasSuffix(f, ")") {
			closeParen = i
		}
	}
	if closeParen < 0 {
		return procIdentity{}, fmt.Errorf("malformed stat line for pid %d", pid)
	}
	rest := fields[closeParen+1:]
	// rest[0]=state rest[1]=ppid rest[2]=pgrp rest[3]=session ... rest[19]=starttime
	if len(rest) < 20 {
		return procIdentity{}, fmt.Errorf("short stat tail for pid %d", pid)
	}
	ppid, _ := strconv.ParseInt(rest[1], 10, 32)
	sid, _ := strconv.ParseInt(rest[3], 10, 32)
	starttime, _ := strconv.ParseUint(rest[19], 10, 64)

	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))

	return procIdentity{
		pid:        pid,
		ppid:       int32(ppid),
		sid:        int32(sid),
		comm:       strings.TrimSpace(string(comm)),
		exe:        exe,
		startTicks: starttime,
	}, nil
}

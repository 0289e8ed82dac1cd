package ptysession

import "testing"

func TestMatchesGuardWildcard(t *testing.T) {
	fg := ForegroundProcess{Available: true, Name: "vim"}
	if !matchesGuard("*", fg) {
		t.Fatal("expected wildcard to allow")
	}
	if !matchesGuard("", fg) {
		t.Fatal("expected empty guard to allow")
	}
}

func TestMatchesGuardBareName(t *testing.T) {
	fg := ForegroundProcess{Available: true, Name: "vim"}
	if !matchesGuard("vim", fg) {
		t.Fatal("expected name match to allow")
	}
	if matchesGuard("emacs", fg) {
		t.Fatal("expected mismatched name to reject")
	}
}

func TestMatchesGuardAbsolutePath(t *testing.T) {
	fg := ForegroundProcess{Available: true, ExecutablePath: "/usr/bin/vim"}
	if !matchesGuard("/usr/bin/vim", fg) {
		t.Fatal("expected absolute path match to allow")
	}
	if matchesGuard("/usr/bin/emacs", fg) {
		t.Fatal("expected mismatched path to reject")
	}
}

func TestMatchesGuardPID(t *testing.T) {
	fg := ForegroundProcess{Available: true, PID: 4242}
	if !matchesGuard("pid:4242", fg) {
		t.Fatal("expected matching pid to allow")
	}
	if matchesGuard("pid:1", fg) {
		t.Fatal("expected mismatched pid to reject")
	}
}

func TestMatchesGuardSessionLeader(t *testing.T) {
	fg := ForegroundProcess{Available: true, IsSessionLeader: true}
	if !matchesGuard("sessionleader:", fg) {
		t.Fatal("expected session leader guard to allow")
	}
	fg2 := ForegroundProcess{Available: true, IsSessionLeader: false}
	if matchesGuard("sessionleader:", fg2) {
		t.Fatal("expected non-leader to reject")
	}
}

func TestMatchesGuardFailsClosedWhenUnavailable(t *testing.T) {
	fg := ForegroundProcess{Available: false}
	if matchesGuard("*", fg) {
		t.Fatal("expected unavailable snapshot to fail closed even with wildcard guard")
	}
}

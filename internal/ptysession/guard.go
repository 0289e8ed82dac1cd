package ptysession

import (
	"path/filepath"
	"strconv"
	"strings"
)

// matchesGuard evaluates a send_to program guard expression against a
// foreground-process snapshot. An unavailable snapshot always fails
// closed regardless of the expression.
func matchesGuard(guard string, fg ForegroundProcess) bool {
	if !fg.Available {
		return false
	}

	guard = strings.TrimSpace(guard)
	switch {
	case guard == "" || guard == "*":
		return true
	case guard == "sessionleader:":
		return fg.IsSessionLeader
	case strings.HasPrefix(guard, "pid:"):
		n, err := strconv.ParseInt(strings.TrimPrefix(guard, "pid:"), 10, 32)
		if err != nil {
			return false
		}
		return int32(n) == fg.PID
	case filepath.IsAbs(guard):
		return guard == fg.ExecutablePath
	default:
		return guard == fg.Name
	}
}

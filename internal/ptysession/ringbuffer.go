package ptysession

import "regexp"

// ansiPattern matches CSI/OSC escape sequences so callers can request
// plain text via include_ansi=false.
var ansiPattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07|[()][AB0-2])`)

// stripANSI removes recognized escape sequences from s.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// ringBuffer is a bounded scrollback of rendered lines with a monotonic
// line counter: the Nth line ever appended keeps logical index N even
// after older lines are evicted, so start_line addressing stays stable
// across eviction.
type ringBuffer struct {
	maxLines  int
	lines     []string // physical storage, oldest first
	baseIndex int       // logical line number of lines[0]
	nextIndex int       // logical line number of the next appended line
	partial   string    // unterminated trailing bytes since the last '\n'
}

func newRingBuffer(maxLines int) *ringBuffer {
	if maxLines <= 0 {
		maxLines = 10000
	}
	return &ringBuffer{maxLines: maxLines}
}

// write appends raw PTY output bytes, splitting into lines on '\n'.
// Every byte written to the PTY master lands here in order.
func (r *ringBuffer) write(p []byte) {
	s := r.partial + string(p)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			r.appendLine(s[start:i])
			start = i + 1
		}
	}
	r.partial = s[start:]
}

func (r *ringBuffer) appendLine(line string) {
	r.lines = append(r.lines, line)
	r.nextIndex++
	if len(r.lines) > r.maxLines {
		r.lines = r.lines[1:]
		r.baseIndex++
	}
}

// totalLines is the number of fully-terminated lines ever produced,
// used as total_lines in a read response. The trailing partial line
// (if any) is exposed separately by flushPartial.
func (r *ringBuffer) totalLines() int {
	return r.nextIndex
}

// flushPartial forces the current unterminated tail into scrollback,
// used when closing a session so nothing written is lost.
func (r *ringBuffer) flushPartial() {
	if r.partial != "" {
		r.appendLine(r.partial)
		r.partial = ""
	}
}

// slice returns up to count lines starting at logical line startLine
// (1-indexed, matching the monotonic counter), along with whether more
// lines exist beyond the returned window and the next unread line.
func (r *ringBuffer) slice(startLine, count int, includeANSI bool) (lines []string, actualStart, totalLines int, hasMore bool, nextStart int) {
	total := r.nextIndex
	if startLine <= 0 {
		startLine = r.baseIndex + 1
	}
	if startLine < r.baseIndex+1 {
		startLine = r.baseIndex + 1 // already evicted; start from the oldest retained line
	}
	if count <= 0 {
		count = total - startLine + 1
		if count < 0 {
			count = 0
		}
	}

	offset := startLine - r.baseIndex - 1
	if offset < 0 {
		offset = 0
	}
	end := offset + count
	if end > len(r.lines) {
		end = len(r.lines)
	}
	if offset > end {
		offset = end
	}

	out := make([]string, 0, end-offset)
	for _, l := range r.lines[offset:end] {
		if !includeANSI {
			l = stripANSI(l)
		}
		out = append(out, l)
	}

	next := startLine + len(out)
	return out, startLine, total, next <= total, next
}

package ptysession

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/joestump/mcp-shell-server/internal/apperr"
)

// encodeInput converts a PTY Session Manager send_input request into the
// exact bytes to write to the PTY master, per the three exclusive input
// modes. execute appends a trailing newline for literal-text mode only
// (control codes and raw bytes are taken as given).
func encodeInput(input string, controlCodes, rawBytes, execute bool) ([]byte, error) {
	switch {
	case controlCodes && rawBytes:
		return nil, apperr.Param("INPUT_MODE_CONFLICT", "control_codes and raw_bytes are mutually exclusive")
	case rawBytes:
		decoded, err := hex.DecodeString(strings.TrimSpace(input))
		if err != nil {
			return nil, apperr.Param("INVALID_HEX_INPUT", fmt.Sprintf("raw_bytes input is not valid hex: %v", err))
		}
		return decoded, nil
	case controlCodes:
		return decodeControlCodes(input)
	default:
		if execute {
			return []byte(input + "\n"), nil
		}
		return []byte(input), nil
	}
}

// decodeControlCodes interprets the escape grammar: ^X (Ctrl-X as byte
// X-0x40), the common single-char escapes, \xHH, \0oo (octal), \uHHHH.
func decodeControlCodes(input string) ([]byte, error) {
	var out []byte
	r := []rune(input)
	for i := 0; i < len(r); i++ {
		c := r[i]

		if c == '^' && i+1 < len(r) {
			ctrl := r[i+1]
			upper := ctrl
			if upper >= 'a' && upper <= 'z' {
				upper -= 'a' - 'A'
			}
			if upper < '@' || upper > '_' {
				return nil, apperr.Param("INVALID_CONTROL_CODE", fmt.Sprintf("invalid control code ^%c", ctrl))
			}
			out = append(out, byte(upper-'@'))
			i++
			continue
		}

		if c != '\\' || i+1 >= len(r) {
			out = append(out, []byte(string(c))...)
			continue
		}

		i++
		esc := r[i]
		switch esc {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'v':
			out = append(out, '\v')
		case '0':
			if i+2 < len(r) && isOctal(r[i+1]) && isOctal(r[i+2]) {
				n, err := strconv.ParseUint(string(r[i+1:i+3]), 8, 8)
				if err != nil {
					return nil, apperr.Param("INVALID_OCTAL_ESCAPE", fmt.Sprintf("invalid octal escape \\0%s", string(r[i+1:i+3])))
				}
				out = append(out, byte(n))
				i += 2
			} else {
				out = append(out, 0)
			}
		case 'x':
			if i+2 >= len(r) {
				return nil, apperr.Param("INVALID_HEX_ESCAPE", "truncated \\xHH escape")
			}
			n, err := strconv.ParseUint(string(r[i+1:i+3]), 16, 8)
			if err != nil {
				return nil, apperr.Param("INVALID_HEX_ESCAPE", fmt.Sprintf("invalid \\x escape: %v", err))
			}
			out = append(out, byte(n))
			i += 2
		case 'u':
			if i+4 >= len(r) {
				return nil, apperr.Param("INVALID_UNICODE_ESCAPE", "truncated \\uHHHH escape")
			}
			n, err := strconv.ParseUint(string(r[i+1:i+5]), 16, 32)
			if err != nil {
				return nil, apperr.Param("INVALID_UNICODE_ESCAPE", fmt.Sprintf("invalid \\u escape: %v", err))
			}
			out = append(out, []byte(string(rune(n)))...)
			i += 4
		case '\\':
			out = append(out, '\\')
		default:
			out = append(out, '\\', byte(esc))
		}
	}
	return out, nil
}

func isOctal(r rune) bool { return r >= '0' && r <= '7' }

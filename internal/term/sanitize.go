// Package term strips terminal control sequences out of raw pty output so the
// rest of the pipeline only ever sees plain text lines.
package term

import "strings"

// Sanitize removes ANSI escape sequences from raw terminal output and
// normalizes line endings. Cursor movement, color, and erase sequences (the
// CSI family) and OSC title sequences are dropped; carriage-return based
// screen redraws are collapsed into newlines so each redraw becomes its own
// line.
//
// Sanitize is idempotent and never fails on malformed input. Escape-like
// bytes that don't unambiguously match a known sequence are passed through
// unchanged, which also makes it safe to call on partial chunks: an escape
// sequence truncated at the end of a chunk survives into the output rather
// than being half-consumed.
func Sanitize(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))

	for i := 0; i < len(raw); {
		c := raw[i]

		if c == 0x1b {
			if n, ok := escapeLen(raw[i:]); ok {
				i += n
				continue
			}
			// Unrecognized or truncated escape: pass through.
			b.WriteByte(c)
			i++
			continue
		}

		if c == '\r' {
			// \r\n is a normal line ending; a bare \r is an in-place redraw.
			// Both become a single newline.
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
				continue
			}
			b.WriteByte('\n')
			i++
			continue
		}

		b.WriteByte(c)
		i++
	}

	return b.String()
}

// escapeLen reports the length of the escape sequence starting at p[0] (which
// must be ESC), or ok=false if the bytes don't form a complete recognizable
// sequence.
func escapeLen(p []byte) (int, bool) {
	if len(p) < 2 {
		return 0, false
	}

	switch p[1] {
	case '[':
		// CSI: ESC [ parameter/intermediate bytes (0x20-0x3f) final byte (0x40-0x7e).
		j := 2
		for j < len(p) && p[j] >= 0x20 && p[j] <= 0x3f {
			j++
		}
		if j < len(p) && p[j] >= 0x40 && p[j] <= 0x7e {
			return j + 1, true
		}
		return 0, false

	case ']':
		// OSC: ESC ] payload, terminated by BEL or ST (ESC \).
		for j := 2; j < len(p); j++ {
			if p[j] == 0x07 {
				return j + 1, true
			}
			if p[j] == 0x1b && j+1 < len(p) && p[j+1] == '\\' {
				return j + 2, true
			}
		}
		return 0, false

	case '(', ')', '*', '+', '#', '%':
		// Charset/alignment designators: ESC <selector> <final>.
		if len(p) >= 3 && p[2] >= 0x20 && p[2] <= 0x7e {
			return 3, true
		}
		return 0, false

	default:
		// Two-byte sequences: keypad modes, cursor save/restore, index/reverse
		// index, reset. Anything outside this set passes through untouched so
		// a stray ESC in the text can't swallow the byte after it.
		if strings.IndexByte("=><DEHMNOVWXZ78c", p[1]) >= 0 {
			return 2, true
		}
		return 0, false
	}
}

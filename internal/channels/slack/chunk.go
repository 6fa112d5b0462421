package slack

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageChars is the longest text posted as one message. Slack truncates
// longer text fields and renders them poorly well before its hard limit.
const MaxMessageChars = 4000

type fence struct {
	indent string
	marker string
	open   string
}

func (f fence) close() string { return f.indent + f.marker }

// splitMessage breaks text into pieces of at most limit bytes. Breaks prefer
// newlines, then spaces, and never fall inside a UTF-8 sequence. A piece that
// ends inside a fenced code block closes the fence and the next piece reopens
// it, so every piece renders on its own.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var pieces []string
	rest := text
	for len(rest) > limit {
		cut := breakIndex(rest, limit)
		f, inFence := openFence(rest[:cut])
		if inFence && limit > 2*(len(f.open)+len(f.close())+2) {
			cut = breakIndex(rest, limit-len(f.close())-1)
			f, inFence = openFence(rest[:cut])
			if inFence && cut <= len(f.open)+1 {
				// A fenced line longer than the limit; split it mid-line.
				cut = runeBoundary(rest, limit-len(f.close())-1)
			}
		} else {
			inFence = false
		}

		piece := strings.TrimRight(rest[:cut], " \t")
		next := rest[cut:]
		if inFence {
			if !strings.HasSuffix(piece, "\n") {
				piece += "\n"
			}
			piece += f.close()
			next = f.open + "\n" + strings.TrimPrefix(next, "\n")
		} else {
			next = strings.TrimPrefix(strings.TrimLeft(next, "\n"), " ")
		}

		if strings.TrimSpace(piece) != "" {
			pieces = append(pieces, piece)
		}
		rest = next
	}
	if strings.TrimSpace(rest) != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// breakIndex picks where to cut s so the head is at most limit bytes.
func breakIndex(s string, limit int) int {
	limit = runeBoundary(s, limit)
	window := s[:limit]
	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return i
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i
	}
	return limit
}

// runeBoundary returns the largest index <= limit that starts a rune, and at
// least the first rune's length. len(s) must exceed limit.
func runeBoundary(s string, limit int) int {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return limit
}

// openFence reports the code fence still open at the end of s.
func openFence(s string) (fence, bool) {
	var (
		current fence
		open    bool
	)
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		if open {
			if strings.TrimRight(line, " \t") == current.close() {
				open = false
			}
			continue
		}
		if marker := fenceMarker(trimmed); marker != "" {
			current = fence{indent: indent, marker: marker, open: strings.TrimRight(line, " \t")}
			open = true
		}
	}
	return current, open
}

// fenceMarker returns the leading run of ``` or ~~~ (three or more).
func fenceMarker(line string) string {
	if len(line) < 3 || (line[0] != '`' && line[0] != '~') {
		return ""
	}
	n := 0
	for n < len(line) && line[n] == line[0] {
		n++
	}
	if n < 3 {
		return ""
	}
	return line[:n]
}

package firmware

import "bytes"

// MaxLineLength bounds a single received line. Longer input is truncated and flagged.
const MaxLineLength = 1024

// Line is one complete received line without its terminator.
type Line struct {
	Text string
	// Truncated is set when the line exceeded MaxLineLength before its terminator arrived.
	Truncated bool
}

// LineAssembler reassembles newline terminated lines from arbitrary read fragments.
// Carriage returns are dropped and empty lines are skipped.
//
// It is not safe for concurrent use.
type LineAssembler struct {
	buf       []byte
	truncated bool
}

// Feed appends data and returns every line completed by it.
func (a *LineAssembler) Feed(data []byte) []Line {
	var lines []Line
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			a.append(data)
			break
		}
		a.append(data[:i])
		data = data[i+1:]

		text := string(bytes.TrimSpace(a.buf))
		if text != "" || a.truncated {
			lines = append(lines, Line{Text: text, Truncated: a.truncated})
		}
		a.buf = a.buf[:0]
		a.truncated = false
	}

	return lines
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (a *LineAssembler) Pending() int {
	return len(a.buf)
}

// Reset discards any partial line.
func (a *LineAssembler) Reset() {
	a.buf = a.buf[:0]
	a.truncated = false
}

func (a *LineAssembler) append(p []byte) {
	for _, b := range p {
		if b == '\r' {
			continue
		}
		if len(a.buf) >= MaxLineLength {
			a.truncated = true
			continue
		}
		a.buf = append(a.buf, b)
	}
}

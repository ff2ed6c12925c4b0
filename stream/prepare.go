package stream

import (
	"bufio"
	"io"
	"strings"

	"github.com/arloliu/go-cnc/firmware"
)

// Line is a program line that survived preparation.
type Line struct {
	// Text is the normalized command without comments.
	Text string
	// Source is the 1-based line number in the original program.
	Source int
}

// StripComment removes parenthesized comments and everything after a ';'.
// An unterminated '(' comment runs to the end of the line.
func StripComment(text string) string {
	if !strings.ContainsAny(text, "(;") {
		return firmware.NormalizeLine(text)
	}

	var sb strings.Builder
	sb.Grow(len(text))
	inParen := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case inParen:
			if c == ')' {
				inParen = false
			}
		case c == '(':
			inParen = true
		case c == ';':
			return firmware.NormalizeLine(sb.String())
		default:
			sb.WriteByte(c)
		}
	}

	return firmware.NormalizeLine(sb.String())
}

// Prepare strips comments, program markers and blank lines from a program.
// The returned lines keep their source line numbers.
func Prepare(lines []string) []Line {
	prepared := make([]Line, 0, len(lines))
	for i, raw := range lines {
		text := StripComment(raw)
		if text == "" || text == "%" {
			continue
		}
		prepared = append(prepared, Line{Text: text, Source: i + 1})
	}

	return prepared
}

// ReadProgram reads a program and splits it into lines.
func ReadProgram(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), firmware.MaxLineLength*4)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

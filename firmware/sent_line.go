package firmware

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrMalformedLine is returned by ParseSentLine for input that is not one terminated line.
var ErrMalformedLine = errors.New("firmware: malformed line")

// ParseSentLine reads an encoded line back the way the controller would, returning the
// normalized command text. It is used by simulators and to verify encodings.
func ParseSentLine(f Family, line []byte) (string, error) {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		return "", ErrMalformedLine
	}
	body := bytes.TrimRight(line[:len(line)-1], "\r")
	if bytes.ContainsAny(body, "\r\n") {
		return "", ErrMalformedLine
	}

	if f.IsJSON() && bytes.HasPrefix(body, []byte(`{"gc":`)) {
		var obj struct {
			GC string `json:"gc"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", errors.Join(ErrMalformedLine, err)
		}
		return NormalizeLine(obj.GC), nil
	}

	return NormalizeLine(string(body)), nil
}

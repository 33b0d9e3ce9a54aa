package bridge

import (
	"bytes"
	"strings"
)

// Assembler reassembles a chunked byte stream into complete lines.
// The trailing partial line persists across Feed calls; a fresh
// Assembler is created per stream session so leftovers from a dropped
// connection never leak into the next one.
type Assembler struct {
	buf string
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed appends a chunk and returns the completed, trimmed, non-empty
// lines it closed off. Invalid UTF-8 is replaced rather than rejected.
func (a *Assembler) Feed(chunk []byte) []string {
	a.buf += string(bytes.ToValidUTF8(chunk, []byte("?")))
	var lines []string
	for {
		i := strings.IndexByte(a.buf, '\n')
		if i < 0 {
			return lines
		}
		line := strings.TrimSpace(a.buf[:i])
		a.buf = a.buf[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
}

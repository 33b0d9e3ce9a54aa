package docker

import (
	"bufio"
	"encoding/binary"
	"io"
)

// frameReader strips the 8-byte stream multiplex headers the Engine
// API emits for containers started without a TTY. The first 8 bytes
// decide the mode: if they do not look like a header the stream is
// passed through untouched (TTY mode).
type frameReader struct {
	br        *bufio.Reader
	remaining int
	plain     bool
	checked   bool
}

func NewFrameReader(r io.Reader) io.Reader {
	return &frameReader{br: bufio.NewReader(r)}
}

func (f *frameReader) Read(p []byte) (int, error) {
	if !f.checked {
		header, err := f.br.Peek(8)
		if err != nil && err != io.EOF {
			return 0, err
		}
		f.plain = !isMultiplexHeader(header)
		f.checked = true
	}
	if f.plain {
		return f.br.Read(p)
	}
	for f.remaining == 0 {
		var header [8]byte
		if _, err := io.ReadFull(f.br, header[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				return 0, io.EOF
			}
			return 0, err
		}
		f.remaining = int(binary.BigEndian.Uint32(header[4:]))
	}
	if len(p) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.br.Read(p)
	f.remaining -= n
	return n, err
}

func isMultiplexHeader(header []byte) bool {
	if len(header) < 8 {
		return false
	}
	if header[0] != 1 && header[0] != 2 {
		return false
	}
	return header[1] == 0 && header[2] == 0 && header[3] == 0
}

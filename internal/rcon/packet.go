package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire packet types. A session sends login once, then one command per
// round trip; the server answers everything with response packets.
const (
	typeResponse int32 = 0
	typeCommand  int32 = 2
	typeLogin    int32 = 3
)

// Body layout: requestID(4) + type(4) + payload + two zero bytes. The
// length header counts the body only.
const (
	minBodySize = 10
	maxBodySize = 4110
)

// authFailedID is the request id servers return when the credential
// is rejected.
const authFailedID int32 = -1

var (
	ErrAuth   = errors.New("rcon: authentication rejected")
	ErrClosed = errors.New("rcon: connection closed")
)

// ProtocolError reports a framing violation on decode: a length header
// out of range, or a peer that closed before delivering the declared
// body.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "rcon: protocol error: " + e.Msg
}

type packet struct {
	requestID int32
	kind      int32
	payload   []byte
}

func writePacket(w io.Writer, p packet) error {
	body := make([]byte, 8+len(p.payload)+2)
	binary.LittleEndian.PutUint32(body[0:], uint32(p.requestID))
	binary.LittleEndian.PutUint32(body[4:], uint32(p.kind))
	copy(body[8:], p.payload)

	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

func readPacket(r io.Reader) (packet, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return packet{}, ErrClosed
		}
		return packet{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	length := int32(binary.LittleEndian.Uint32(head[:]))
	if length < minBodySize || length > maxBodySize {
		return packet{}, &ProtocolError{Msg: fmt.Sprintf("body length %d out of range", length)}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet{}, &ProtocolError{Msg: fmt.Sprintf("body truncated: declared %d bytes: %v", length, err)}
	}
	return packet{
		requestID: int32(binary.LittleEndian.Uint32(body[0:4])),
		kind:      int32(binary.LittleEndian.Uint32(body[4:8])),
		payload:   body[8 : length-2],
	}, nil
}

// payloadText decodes a packet payload best-effort: malformed UTF-8 is
// replaced, never surfaced as an error.
func payloadText(b []byte) string {
	return string(bytes.ToValidUTF8(b, []byte("?")))
}

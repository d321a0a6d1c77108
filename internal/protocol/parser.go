package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingField is returned by PacketReader when a packet has fewer
// fields than the command requires.
var ErrMissingField = errors.New("missing field")

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Reason string
	Frame  []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s (%d bytes)", e.Reason, len(e.Frame))
}

// Decode parses a complete frame, length prefix included. Frames naming a
// command this codec does not know decode successfully with Command set to
// CmdUnknown and Name holding the raw text, so that newer servers can add
// commands without breaking older clients.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < LengthPrefixSize {
		return nil, &DecodeError{Reason: "frame shorter than length prefix", Frame: frame}
	}

	length := int(binary.BigEndian.Uint16(frame[:LengthPrefixSize]))
	if length != len(frame) {
		return nil, &DecodeError{
			Reason: fmt.Sprintf("length prefix %d does not match frame size %d", length, len(frame)),
			Frame:  frame,
		}
	}

	body := frame[LengthPrefixSize:]
	if len(body) == 0 {
		return nil, &DecodeError{Reason: "empty packet", Frame: frame}
	}
	if body[len(body)-1] != FieldDelimiter {
		return nil, &DecodeError{Reason: "unterminated field", Frame: frame}
	}

	parts := bytes.Split(body[:len(body)-1], []byte{FieldDelimiter})
	name := string(parts[0])
	if name == "" {
		return nil, &DecodeError{Reason: "empty command name", Frame: frame}
	}

	fields := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		fields = append(fields, string(p))
	}

	return &Packet{
		Command: LookupCommand(name),
		Name:    name,
		Fields:  fields,
	}, nil
}

// PacketReader consumes the payload fields of a packet in order.
type PacketReader struct {
	pkt *Packet
	pos int
}

// NewPacketReader returns a reader positioned at the first payload field.
func NewPacketReader(pkt *Packet) *PacketReader {
	return &PacketReader{pkt: pkt}
}

// Remaining returns the number of unread fields.
func (r *PacketReader) Remaining() int {
	return len(r.pkt.Fields) - r.pos
}

// ReadString returns the next field.
func (r *PacketReader) ReadString() (string, error) {
	if r.pos >= len(r.pkt.Fields) {
		return "", fmt.Errorf("%s field %d: %w", r.pkt.Name, r.pos, ErrMissingField)
	}
	s := r.pkt.Fields[r.pos]
	r.pos++
	return s, nil
}

// ReadInt returns the next field parsed as a decimal integer.
func (r *PacketReader) ReadInt() (int, error) {
	s, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s field %d: invalid integer %q: %w", r.pkt.Name, r.pos-1, s, err)
	}
	return v, nil
}

// ReadInt64 returns the next field parsed as a 64-bit decimal integer.
func (r *PacketReader) ReadInt64() (int64, error) {
	s, err := r.ReadString()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s field %d: invalid integer %q: %w", r.pkt.Name, r.pos-1, s, err)
	}
	return v, nil
}

// ReadBool returns the next field parsed as a boolean ("true"/"false",
// "1"/"0").
func (r *PacketReader) ReadBool() (bool, error) {
	s, err := r.ReadString()
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s field %d: invalid boolean %q: %w", r.pkt.Name, r.pos-1, s, err)
	}
	return v, nil
}

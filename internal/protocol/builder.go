package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFieldDelimiter is returned when a field contains the NUL delimiter.
	ErrFieldDelimiter = errors.New("field contains the frame delimiter")

	// ErrPacketTooLarge is returned when an encoded frame exceeds MaxPacketSize.
	ErrPacketTooLarge = errors.New("packet too large")
)

// PacketBuilder constructs a single frame field by field. The first write
// error sticks and is reported by Build.
type PacketBuilder struct {
	buf    bytes.Buffer
	fields int
	err    error
}

// NewPacketBuilder creates a builder whose first field is the command name.
func NewPacketBuilder(cmd Command) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Write([]byte{0, 0}) // length placeholder
	return b.WriteString(cmd.String())
}

// WriteString appends a text field.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if b.err != nil {
		return b
	}
	if idx := strings.IndexByte(s, FieldDelimiter); idx >= 0 {
		b.err = fmt.Errorf("field %d at byte %d: %w", b.fields, idx, ErrFieldDelimiter)
		return b
	}
	b.buf.WriteString(s)
	b.buf.WriteByte(FieldDelimiter)
	b.fields++
	return b
}

// WriteInt appends an integer field in decimal text form.
func (b *PacketBuilder) WriteInt(v int) *PacketBuilder {
	return b.WriteString(strconv.Itoa(v))
}

// WriteInt64 appends a 64-bit integer field in decimal text form.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	return b.WriteString(strconv.FormatInt(v, 10))
}

// WriteBool appends a boolean field as "true" or "false".
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	return b.WriteString(strconv.FormatBool(v))
}

// WriteStrings appends each string as its own field.
func (b *PacketBuilder) WriteStrings(fields ...string) *PacketBuilder {
	for _, f := range fields {
		b.WriteString(f)
	}
	return b
}

// Len returns the current size of the frame being built, prefix included.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// Build returns the finished frame with its length prefix filled in.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("%d bytes (max %d): %w", b.buf.Len(), MaxPacketSize, ErrPacketTooLarge)
	}
	data := make([]byte, b.buf.Len())
	copy(data, b.buf.Bytes())
	binary.BigEndian.PutUint16(data[:LengthPrefixSize], uint16(len(data)))
	return data, nil
}

// String returns a printable dump of the frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	if len(data) > LengthPrefixSize {
		data = data[LengthPrefixSize:]
	}
	return fmt.Sprintf("PacketBuilder[%d fields]: %q", b.fields, data)
}

// Encode builds a frame from a command and its ordered text fields.
func Encode(cmd Command, fields ...string) ([]byte, error) {
	if cmd == CmdUnknown {
		return nil, fmt.Errorf("cannot encode unknown command")
	}
	return NewPacketBuilder(cmd).WriteStrings(fields...).Build()
}

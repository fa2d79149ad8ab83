// Package binary implements Zaber's fixed six-byte binary protocol:
// <u8 device, u8 command, i32 data little-endian>, with message IDs
// repurposing the top byte of data as described in spec.md §6.
package binary

import (
	"encoding/binary"
	"fmt"
)

// FrameSize is the fixed length of every Zaber binary frame.
const FrameSize = 6

// Command is a single outgoing Zaber binary command.
type Command struct {
	DeviceNumber  byte
	CommandNumber byte
	Data          int32
	MessageID     *byte // nil means no message ID
}

// NewCommand builds a command with no message ID.
func NewCommand(device, command byte, data int32) Command {
	return Command{DeviceNumber: device, CommandNumber: command, Data: data}
}

// WithMessageID returns a copy of c tagged with the given message ID.
func (c Command) WithMessageID(id byte) Command {
	c.MessageID = &id
	return c
}

// Encode packs the command into its six-byte wire form. When MessageID is
// set, it replaces the top byte of the little-endian Data field.
func (c Command) Encode() [FrameSize]byte {
	var frame [FrameSize]byte
	frame[0] = c.DeviceNumber
	frame[1] = c.CommandNumber
	binary.LittleEndian.PutUint32(frame[2:6], uint32(c.Data))
	if c.MessageID != nil {
		frame[5] = *c.MessageID
	}
	return frame
}

// Reply is a single incoming Zaber binary reply.
type Reply struct {
	DeviceNumber  byte
	CommandNumber byte
	Data          int32
	MessageID     *byte
}

// ParseReply decodes a six-byte frame. hasMessageID must be supplied by the
// caller: a binary reply's message ID truncates the data field's top byte,
// and the wire format gives no way to tell whether one is present.
func ParseReply(frame [FrameSize]byte, hasMessageID bool) (Reply, error) {
	r := Reply{DeviceNumber: frame[0], CommandNumber: frame[1]}
	raw := binary.LittleEndian.Uint32(frame[2:6])

	if !hasMessageID {
		r.Data = int32(raw)
		return r, nil
	}

	id := byte(raw >> 24)
	r.MessageID = &id
	data := raw & 0x00FFFFFF
	if data&0x00800000 != 0 {
		// Sign-extend the 24-bit value to 32 bits.
		data |= 0xFF000000
	}
	r.Data = int32(data)
	return r, nil
}

// ParseReplyBytes is a convenience wrapper over ParseReply for a slice of
// exactly FrameSize bytes.
func ParseReplyBytes(b []byte, hasMessageID bool) (Reply, error) {
	if len(b) != FrameSize {
		return Reply{}, fmt.Errorf("binary: frame must be %d bytes, got %d", FrameSize, len(b))
	}
	var frame [FrameSize]byte
	copy(frame[:], b)
	return ParseReply(frame, hasMessageID)
}

// Encode packs the reply back into its six-byte wire form (message ID, if
// present, overwrites the top byte of Data exactly as it would appear on
// the wire).
func (r Reply) Encode() [FrameSize]byte {
	var frame [FrameSize]byte
	frame[0] = r.DeviceNumber
	frame[1] = r.CommandNumber
	data := uint32(r.Data)
	if r.MessageID != nil {
		data = (data & 0x00FFFFFF) | (uint32(*r.MessageID) << 24)
	}
	binary.LittleEndian.PutUint32(frame[2:6], data)
	return frame
}

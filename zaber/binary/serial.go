package binary

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Port is the minimal transport a Device needs.
type Port interface {
	io.ReadWriteCloser
}

// Open opens a Zaber binary serial port (commonly 9600 baud).
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("binary: open %s: %w", name, err)
	}
	return p, nil
}

// Device sends Commands and reads matching Replies over a fixed
// six-byte-frame Port.
type Device struct {
	port         Port
	useMessageID bool
}

// NewDevice wraps an open Port. When useMessageID is true, replies are
// parsed assuming the top byte of Data carries a message ID.
func NewDevice(port Port, useMessageID bool) *Device {
	return &Device{port: port, useMessageID: useMessageID}
}

// Do writes a command and reads back the matching six-byte reply.
func (d *Device) Do(cmd Command) (Reply, error) {
	frame := cmd.Encode()
	if _, err := d.port.Write(frame[:]); err != nil {
		return Reply{}, fmt.Errorf("binary: write: %w", err)
	}
	var reply [FrameSize]byte
	if _, err := io.ReadFull(d.port, reply[:]); err != nil {
		return Reply{}, fmt.Errorf("binary: read reply: %w", err)
	}
	r, err := ParseReply(reply, d.useMessageID)
	if err != nil {
		return Reply{}, err
	}
	if r.DeviceNumber != cmd.DeviceNumber {
		return Reply{}, fmt.Errorf("binary: protocol mismatch: sent to device %d, reply from device %d", cmd.DeviceNumber, r.DeviceNumber)
	}
	return r, nil
}

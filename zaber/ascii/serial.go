package ascii

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// idlePollInterval is the cadence at which Device.PollUntilIdle re-queries
// device status, per spec.md §6.
const idlePollInterval = 50 * time.Millisecond

// Port is the minimal transport Device needs: a line-oriented
// read/write/close. Open returns one backed by a real serial port;
// tests substitute an in-memory implementation.
type Port interface {
	io.ReadWriteCloser
}

// Open opens a Zaber ASCII serial port at the given OS device path and baud
// rate (commonly 9600 or 115200 for Zaber hardware).
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("ascii: open %s: %w", name, err)
	}
	return p, nil
}

// Device sends AsciiCommands to a single device address over a Port and
// parses the matching AsciiReply.
type Device struct {
	port    Port
	reader  *bufio.Reader
	address int
	nextID  int
}

// NewDevice wraps an open Port for the device at the given address.
func NewDevice(port Port, address int) *Device {
	return &Device{port: port, reader: bufio.NewReader(port), address: address}
}

// Do sends a command and waits for its reply, verifying the reply's
// device/axis/message-id match the request (protocol-mismatch detection
// per spec.md §7).
func (d *Device) Do(ctx context.Context, axis int, data string) (AsciiReply, error) {
	id := d.nextID
	d.nextID = (d.nextID + 1) % 256
	cmd := NewCommand(d.address, axis, id, data)

	if _, err := d.port.Write([]byte(cmd.Encode())); err != nil {
		return AsciiReply{}, fmt.Errorf("ascii: write: %w", err)
	}

	type result struct {
		reply AsciiReply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			ch <- result{err: fmt.Errorf("ascii: read reply: %w", err)}
			return
		}
		reply, err := ParseReply(line)
		ch <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return AsciiReply{}, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return AsciiReply{}, res.err
		}
		if res.reply.DeviceAddr != d.address || res.reply.AxisNumber != axis {
			return AsciiReply{}, fmt.Errorf("ascii: protocol mismatch: sent to device %d axis %d, reply from device %d axis %d",
				d.address, axis, res.reply.DeviceAddr, res.reply.AxisNumber)
		}
		if res.reply.MessageID == nil || *res.reply.MessageID != id {
			return AsciiReply{}, fmt.Errorf("ascii: protocol mismatch: message id %d does not match request %d", derefOr(res.reply.MessageID, -1), id)
		}
		if res.reply.IsRejected() {
			return AsciiReply{}, fmt.Errorf("ascii: command %q rejected: %s", data, res.reply.Data)
		}
		return res.reply, nil
	}
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// PollUntilIdle blocks until the device reports IDLE status, polling at
// idlePollInterval.
func (d *Device) PollUntilIdle(ctx context.Context, axis int) error {
	for {
		reply, err := d.Do(ctx, axis, "")
		if err != nil {
			return err
		}
		if reply.IsIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idlePollInterval):
		}
	}
}

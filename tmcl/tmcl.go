// Package tmcl implements the opaque rotary-motor driver contract of
// spec.md §6: rotate_right/rotate_left/stop/move_absolute/move_relative/
// actual_position over a Trinamic TMCL serial link. It implements
// instrument.RotaryAxis.
package tmcl

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// TMCL instructions used by this driver (Trinamic TMCL reference command
// set: ROR, ROL, MST, MVP, GAP).
const (
	instrROR = 1
	instrROL = 2
	instrMST = 3
	instrMVP = 4
	instrGAP = 6

	typeMVPAbsolute = 0
	typeMVPRelative = 1

	apActualPosition = 1
	apMaxSpeed       = 4

	idleSettle = 10 * time.Millisecond
)

// Port is the minimal transport a Motor needs.
type Port interface {
	io.ReadWriteCloser
}

// Open opens a TMCL serial link (commonly 9600 baud).
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("tmcl: open %s: %w", name, err)
	}
	return p, nil
}

// Motor drives a single TMCL axis over a Port and implements
// instrument.RotaryAxis. Coupling-angle position is never wrapped: the
// operator walks the full physical range, which can exceed a full turn in
// either direction.
type Motor struct {
	port     Port
	address  byte
	speed    float64
	settle   time.Duration
	lastMove time.Time
}

// NewMotor wraps an open Port for the TMCL module at the given bus address.
func NewMotor(port Port, address byte) *Motor {
	return &Motor{port: port, address: address, settle: idleSettle}
}

// request is the fixed 9-byte TMCL host->module frame: address, instruction,
// type, motor/bank, 4-byte big-endian value, checksum.
func (m *Motor) request(instruction, typ, motorBank byte, value int32) []byte {
	frame := make([]byte, 9)
	frame[0] = m.address
	frame[1] = instruction
	frame[2] = typ
	frame[3] = motorBank
	binary.BigEndian.PutUint32(frame[4:8], uint32(value))
	var sum byte
	for _, b := range frame[:8] {
		sum += b
	}
	frame[8] = sum
	return frame
}

func (m *Motor) do(ctx context.Context, instruction, typ, motorBank byte, value int32) (int32, error) {
	frame := m.request(instruction, typ, motorBank, value)
	if _, err := m.port.Write(frame); err != nil {
		return 0, fmt.Errorf("tmcl: write: %w", err)
	}

	type result struct {
		reply [9]byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var reply [9]byte
		_, err := io.ReadFull(m.port, reply[:])
		ch <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return 0, fmt.Errorf("tmcl: read reply: %w", res.err)
		}
		if res.reply[0] != 2 { // host address, fixed per TMCL reply framing
			return 0, fmt.Errorf("tmcl: protocol mismatch: unexpected reply address byte 0x%02x", res.reply[0])
		}
		status := res.reply[2]
		if status != 100 { // 100 = "No Error" in TMCL status codes
			return 0, fmt.Errorf("tmcl: module reported error status %d", status)
		}
		return int32(binary.BigEndian.Uint32(res.reply[4:8])), nil
	}
}

// RotateRight starts continuous rotation at the given velocity.
func (m *Motor) RotateRight(ctx context.Context, velocity int32) error {
	_, err := m.do(ctx, instrROR, 0, 0, velocity)
	return err
}

// RotateLeft starts continuous rotation at the given velocity.
func (m *Motor) RotateLeft(ctx context.Context, velocity int32) error {
	_, err := m.do(ctx, instrROL, 0, 0, velocity)
	return err
}

// Stop halts the motor immediately.
func (m *Motor) Stop(ctx context.Context) error {
	_, err := m.do(ctx, instrMST, 0, 0, 0)
	return err
}

// MoveAbsolute moves to an absolute step position. Blocking moves poll
// ActualPosition until it stops changing.
func (m *Motor) MoveAbsolute(ctx context.Context, steps int64, blocking bool) error {
	if _, err := m.do(ctx, instrMVP, typeMVPAbsolute, 0, int32(steps)); err != nil {
		return err
	}
	if blocking {
		return m.WaitUntilIdle(ctx)
	}
	return nil
}

// MoveRelative moves by a relative step offset.
func (m *Motor) MoveRelative(ctx context.Context, deltaSteps int64, blocking bool) error {
	if _, err := m.do(ctx, instrMVP, typeMVPRelative, 0, int32(deltaSteps)); err != nil {
		return err
	}
	if blocking {
		return m.WaitUntilIdle(ctx)
	}
	return nil
}

// CurrentPosition queries the module's actual position axis parameter.
func (m *Motor) CurrentPosition(ctx context.Context) (int64, error) {
	v, err := m.do(ctx, instrGAP, apActualPosition, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// SetSpeed sets the module's max-speed axis parameter. TMCL's SAP
// (Set Axis Parameter) instruction number is 5; it shares the do() plumbing
// via a local constant to keep the exported surface matching
// instrument.RotaryAxis.
func (m *Motor) SetSpeed(ctx context.Context, stepsPerSec float64) error {
	const instrSAP = 5
	m.speed = stepsPerSec
	_, err := m.do(ctx, instrSAP, apMaxSpeed, 0, int32(stepsPerSec))
	return err
}

// WaitUntilIdle polls ActualPosition until two consecutive reads agree,
// which for a TMCL velocity/position move is the closest observable idle
// signal the opaque driver contract exposes.
func (m *Motor) WaitUntilIdle(ctx context.Context) error {
	prev, err := m.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.settle):
		}
		cur, err := m.CurrentPosition(ctx)
		if err != nil {
			return err
		}
		if cur == prev {
			return nil
		}
		prev = cur
	}
}

package ascii

import (
	"context"
	"fmt"
	"strconv"
)

// DefaultStepToMM is the Zaber motor's microstep-to-millimeter scale used
// throughout spec.md (0.047625 um/step), unless overridden at construction
// time.
const DefaultStepToMM = 0.047625e-3

// LinearStage drives a single-axis Zaber linear stage (the cavity-length
// motor) and implements instrument.LinearAxis.
type LinearStage struct {
	device   *Device
	axis     int
	stepToMM float64
	lastMM   float64
}

// NewLinearStage wraps a Device for the given axis. stepToMM defaults to
// DefaultStepToMM when zero.
func NewLinearStage(device *Device, axis int, stepToMM float64) *LinearStage {
	if stepToMM == 0 {
		stepToMM = DefaultStepToMM
	}
	return &LinearStage{device: device, axis: axis, stepToMM: stepToMM}
}

// StepToMM returns the microstep-to-millimeter scale factor.
func (s *LinearStage) StepToMM() float64 { return s.stepToMM }

// MoveAbsoluteMM moves to an absolute position in millimeters.
func (s *LinearStage) MoveAbsoluteMM(ctx context.Context, positionMM float64, blocking bool) error {
	steps := int64(positionMM / s.stepToMM)
	if _, err := s.device.Do(ctx, s.axis, fmt.Sprintf("move abs %d", steps)); err != nil {
		return err
	}
	s.lastMM = positionMM
	if blocking {
		return s.WaitUntilIdle(ctx)
	}
	return nil
}

// MoveRelativeMM moves by a relative offset in millimeters.
func (s *LinearStage) MoveRelativeMM(ctx context.Context, deltaMM float64, blocking bool) error {
	steps := int64(deltaMM / s.stepToMM)
	if _, err := s.device.Do(ctx, s.axis, fmt.Sprintf("move rel %d", steps)); err != nil {
		return err
	}
	s.lastMM += deltaMM
	if blocking {
		return s.WaitUntilIdle(ctx)
	}
	return nil
}

// CurrentPositionMM queries the device for its settled position.
func (s *LinearStage) CurrentPositionMM(ctx context.Context) (float64, error) {
	reply, err := s.device.Do(ctx, s.axis, "get pos")
	if err != nil {
		return 0, err
	}
	steps, err := strconv.ParseInt(reply.Data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ascii: parse position reply %q: %w", reply.Data, err)
	}
	s.lastMM = float64(steps) * s.stepToMM
	return s.lastMM, nil
}

// WaitUntilIdle blocks until the axis reports IDLE.
func (s *LinearStage) WaitUntilIdle(ctx context.Context) error {
	return s.device.PollUntilIdle(ctx, s.axis)
}

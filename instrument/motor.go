package instrument

import "context"

// LinearAxis is the cavity-length stage: a Zaber-style linear motor
// addressed in millimeters, with an underlying microstep resolution.
type LinearAxis interface {
	// MoveAbsoluteMM moves to an absolute position in millimeters. When
	// blocking is true the call does not return until the axis is idle.
	MoveAbsoluteMM(ctx context.Context, positionMM float64, blocking bool) error

	// MoveRelativeMM moves by a relative offset in millimeters.
	MoveRelativeMM(ctx context.Context, deltaMM float64, blocking bool) error

	// CurrentPositionMM returns the last settled position.
	CurrentPositionMM(ctx context.Context) (float64, error)

	// WaitUntilIdle blocks until a previously issued non-blocking move
	// completes.
	WaitUntilIdle(ctx context.Context) error

	// StepToMM is the microstep-to-millimeter scale factor.
	StepToMM() float64
}

// RotaryAxis is the antenna-coupling stage: an unbounded integer-microstep
// motor. Positions are never wrapped — the physical range can exceed a
// full turn in either direction.
type RotaryAxis interface {
	MoveAbsolute(ctx context.Context, steps int64, blocking bool) error
	MoveRelative(ctx context.Context, deltaSteps int64, blocking bool) error
	CurrentPosition(ctx context.Context) (int64, error)
	SetSpeed(ctx context.Context, stepsPerSec float64) error
	WaitUntilIdle(ctx context.Context) error
}

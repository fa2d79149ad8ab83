package instrument

import "context"

// VNA is the façade the tuning core drives. Implementations talk SCPI over
// whatever transport backs the instrument (TCP-to-GPIB, raw TCP, ...); see
// package scpi for the reference transport.
//
// Park/Unpark MUST be idempotent and MUST be safe to call on every exit path
// of a session, including after an error.
type VNA interface {
	// SetWindow applies center/span/rbw/power. NOP is chosen so that
	// nop >= 5*span/rbw (points-per-bandwidth invariant).
	SetWindow(ctx context.Context, center, span, rbw, powerDBm float64) error

	// Acquire performs one sweep and returns the resulting trace.
	Acquire(ctx context.Context) (Trace, error)

	// Window returns the currently applied sweep settings.
	Window(ctx context.Context) (Window, error)

	// Park moves the VNA to an out-of-band configuration, returning the
	// settings that were in effect beforehand so they can later be
	// restored via Unpark.
	Park(ctx context.Context) (Window, error)

	// Unpark restores settings previously captured by Park.
	Unpark(ctx context.Context, saved Window) error

	// Autoscale is a cosmetic rescale, invoked after each cost evaluation.
	Autoscale(ctx context.Context) error

	// ElectricalDelayAuto runs a one-shot electrical-delay calibration,
	// invoked before wideband sweeps to flatten the phase baseline.
	ElectricalDelayAuto(ctx context.Context) error
}

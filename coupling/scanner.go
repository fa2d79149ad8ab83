// Package coupling implements the rotary-axis coupling scanner (C6): an
// angular sweep forward from the current position that samples resonance
// depth in dB and stops as soon as it sees "good enough" coupling.
package coupling

import (
	"context"
	"fmt"
	"math"

	"github.com/filtcav/fctune/instrument"
)

// DefaultSpanSteps and DefaultStepSteps express the scanner's default
// angular range (a full motor rotation) and per-sample step as microstep
// counts, matching spec.md's "2*pi radians of equivalent motor step count"
// and "2*pi/100" defaults.
const (
	DefaultSpanSteps = 51200       // one full rotation, in microsteps
	DefaultStepSteps = 51200 / 100 // 100 samples across the span
)

// GoodEnoughDB is the early-termination threshold. The source's variable is
// read from a method returning "depth (dB)", so this is a dB threshold, not
// the linear threshold the depth package's Probe.Measure returns — converted
// here via minDepthDB before comparison.
const GoodEnoughDB = -25

// Options tunes a Scanner's sweep.
type Options struct {
	SpanSteps int64
	StepSteps int64
	ProbeHz   float64 // frequency to probe at each step; defaults to the target passed to Scan
	SpanHz    float64 // VNA span for the probe window, default 200 MHz
	RBWHz     float64
	PowerDBm  float64
}

func (o Options) withDefaults() Options {
	if o.SpanSteps == 0 {
		o.SpanSteps = DefaultSpanSteps
	}
	if o.StepSteps == 0 {
		o.StepSteps = DefaultStepSteps
	}
	if o.SpanHz == 0 {
		o.SpanHz = 200e6
	}
	if o.RBWHz == 0 {
		o.RBWHz = 1e6
	}
	return o
}

// Scanner drives the rotary axis while probing depth at a fixed frequency.
type Scanner struct {
	vna   instrument.VNA
	motor instrument.RotaryAxis
	opts  Options
}

// New wraps the VNA and rotary-axis façades for coupling scans.
func New(vna instrument.VNA, motor instrument.RotaryAxis, opts Options) *Scanner {
	return &Scanner{vna: vna, motor: motor, opts: opts.withDefaults()}
}

// Sample is one angular position's depth measurement, in dB.
type Sample struct {
	Steps  int64
	DepthDB float64
}

// Scan sweeps the rotary axis forward from its current position, sampling
// the depth of a window centred on ProbeHz (targetHz when ProbeHz is zero)
// every StepSteps microsteps up to SpanSteps, and stops early as soon as a
// sample's depth is at or below GoodEnoughDB. It leaves the motor at the
// termination position (the early-stop position, or the last sampled
// position if the full span was swept without success).
func (s *Scanner) Scan(ctx context.Context, targetHz float64) ([]Sample, error) {
	probeHz := s.opts.ProbeHz
	if probeHz == 0 {
		probeHz = targetHz
	}
	if err := s.vna.SetWindow(ctx, probeHz, s.opts.SpanHz, s.opts.RBWHz, s.opts.PowerDBm); err != nil {
		return nil, fmt.Errorf("coupling: set window: %w", err)
	}

	start, err := s.motor.CurrentPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("coupling: read start position: %w", err)
	}

	var samples []Sample
	steps := int64(0)
	for steps <= s.opts.SpanSteps {
		tr, err := s.vna.Acquire(ctx)
		if err != nil {
			return samples, fmt.Errorf("coupling: acquire: %w", err)
		}
		depthDB := minDepthDB(tr)
		cur, err := s.motor.CurrentPosition(ctx)
		if err != nil {
			return samples, fmt.Errorf("coupling: read position: %w", err)
		}
		samples = append(samples, Sample{Steps: cur, DepthDB: depthDB})

		if depthDB <= GoodEnoughDB {
			return samples, nil
		}

		steps += s.opts.StepSteps
		if steps > s.opts.SpanSteps {
			break
		}
		if err := s.motor.MoveAbsolute(ctx, start+steps, true); err != nil {
			return samples, fmt.Errorf("coupling: move: %w", err)
		}
	}
	return samples, nil
}

// minDepthDB returns the trace's minimum amplitude-squared sample converted
// to dB: 10*log10(linear).
func minDepthDB(tr instrument.Trace) float64 {
	amp := tr.AmplitudeSquared()
	min := math.Inf(1)
	for _, v := range amp {
		if v < min {
			min = v
		}
	}
	if min <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(min)
}

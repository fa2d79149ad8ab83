// Package depth implements the narrow-span depth probe (C4): a single
// measurement of a cavity's resonance depth at a target frequency, used by
// the cost function, the coarse puller and the tuning controller's
// depth-tolerance check. The coupling scanner does not use it: see coupling
// for the dB variant — the two are deliberately distinct types because they
// operate in different units (linear vs dB).
package depth

import (
	"context"
	"fmt"
	"math"

	"github.com/filtcav/fctune/instrument"
)

// DefaultSpanHz and DefaultRBWHz match spec.md's narrow-span depth-probe
// defaults (0.1 MHz span, 100 kHz IF bandwidth).
const (
	DefaultSpanHz = 0.1e6
	DefaultRBWHz  = 100e3
)

// Options tunes a Probe's acquisition window.
type Options struct {
	SpanHz   float64
	RBWHz    float64
	PowerDBm float64
}

func (o Options) withDefaults() Options {
	if o.SpanHz == 0 {
		o.SpanHz = DefaultSpanHz
	}
	if o.RBWHz == 0 {
		o.RBWHz = DefaultRBWHz
	}
	return o
}

// Probe measures resonance depth at a single frequency.
type Probe struct {
	vna  instrument.VNA
	opts Options
}

// New wraps a VNA façade for depth probing.
func New(vna instrument.VNA, opts Options) *Probe {
	return &Probe{vna: vna, opts: opts.withDefaults()}
}

// Result is a single depth measurement: the linear amplitude-squared minimum
// found in the probe window and the frequency at which it occurred.
type Result struct {
	DepthLinear float64
	FrequencyHz float64
}

// Measure sets a narrow window centered on targetHz, acquires one trace, and
// returns the minimum amplitude-squared sample and its frequency.
func (p *Probe) Measure(ctx context.Context, targetHz float64) (Result, error) {
	if err := p.vna.SetWindow(ctx, targetHz, p.opts.SpanHz, p.opts.RBWHz, p.opts.PowerDBm); err != nil {
		return Result{}, fmt.Errorf("depth: set window: %w", err)
	}
	tr, err := p.vna.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("depth: acquire: %w", err)
	}
	if tr.Len() == 0 {
		return Result{}, fmt.Errorf("depth: empty trace at %g Hz", targetHz)
	}

	amp := tr.AmplitudeSquared()
	minIdx := 0
	minVal := math.Inf(1)
	for i, v := range amp {
		if v < minVal {
			minVal = v
			minIdx = i
		}
	}
	return Result{DepthLinear: minVal, FrequencyHz: tr.FrequencyHz[minIdx]}, nil
}

// Package puller implements the linear coarse-puller (C7): given a starting
// length-stage position, iteratively close the gap between the deepest
// detected resonance and the target frequency.
package puller

import (
	"context"
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"github.com/filtcav/fctune/coupling"
	"github.com/filtcav/fctune/depth"
	"github.com/filtcav/fctune/detect"
	"github.com/filtcav/fctune/instrument"
)

// Defaults named in spec.md §4.7: iteration cap, convergence tolerance, the
// wide window used for the initial resonance search, and the narrower
// re-detect window used while closing the gap.
const (
	MaxIterations   = 25
	ConvergeHz      = 1e6
	InitialWindowHz = 500e6
	RedetectWindowHz = 60e6
	SetSpanHz       = 30e6
)

// TranslateFreqErrorToLengthStep is the pluggable adaptive-move heuristic:
// it maps a signed frequency error (detected - target) to a signed length
// increment in millimeters. The sign follows the empirically known mode
// slope; magnitude is proportional to |deltaHz|. Callers may substitute a
// calibrated heuristic; DefaultTranslate is a conservative linear fallback.
type TranslateFreqErrorToLengthStep func(deltaHz float64) float64

// DefaultTranslate assumes a mode slope of roughly +1 MHz per micron of
// length increase (~1 GHz/mm) and returns -deltaHz / (1 GHz/mm): closing a
// positive deltaHz (detected above target) shortens the cavity.
func DefaultTranslate(deltaHz float64) float64 {
	const hzPerMM = -1e9 // empirically, ~1 GHz shift per mm of length change
	return deltaHz / hzPerMM
}

// Puller drives the linear axis toward a target frequency using wideband
// resonance detection and a narrowing re-detect loop.
type Puller struct {
	vna          instrument.VNA
	axis         instrument.LinearAxis
	rotary       instrument.RotaryAxis // nil skips the leading coupling scan
	detectOpts   detect.Options
	depthOpts    depth.Options
	couplingOpts coupling.Options
	translate    TranslateFreqErrorToLengthStep
}

// New wraps the façades a Puller needs. translate defaults to
// DefaultTranslate when nil. rotary may be nil for callers (and tests) that
// already have a usable coupling and want to skip spec.md §4.7 step 1; a
// real session always supplies it.
func New(vna instrument.VNA, axis instrument.LinearAxis, rotary instrument.RotaryAxis, detectOpts detect.Options, depthOpts depth.Options, couplingOpts coupling.Options, translate TranslateFreqErrorToLengthStep) *Puller {
	if translate == nil {
		translate = DefaultTranslate
	}
	return &Puller{vna: vna, axis: axis, rotary: rotary, detectOpts: detectOpts, depthOpts: depthOpts, couplingOpts: couplingOpts, translate: translate}
}

// Result summarizes a pull attempt.
type Result struct {
	Iterations     int
	Converged      bool
	FinalFrequency float64
}

// Pull iteratively narrows the linear axis onto targetHz. It returns once
// |detected - target| <= ConvergeHz, the iteration cap is reached, or a
// re-detect window comes up empty (in which case it falls back to a broad
// re-tune from the initial wideband search before returning).
func (p *Puller) Pull(ctx context.Context, targetHz float64) (Result, error) {
	probe := depth.New(p.vna, p.depthOpts)

	if p.rotary != nil {
		scanner := coupling.New(p.vna, p.rotary, p.couplingOpts)
		if _, err := scanner.Scan(ctx, targetHz); err != nil {
			return Result{}, fmt.Errorf("puller: ensure usable coupling: %w", err)
		}
	}

	resonances, err := detect.Detect(ctx, p.vna, targetHz-InitialWindowHz/2, targetHz+InitialWindowHz/2, p.detectOpts)
	if err != nil {
		return Result{}, fmt.Errorf("puller: initial detect: %w", err)
	}
	if len(resonances) == 0 {
		return Result{}, fmt.Errorf("puller: no resonances found in initial window around %g Hz", targetHz)
	}

	selected, err := deepest(ctx, probe, resonances)
	if err != nil {
		return Result{}, err
	}

	for i := 0; i < MaxIterations; i++ {
		delta := selected - targetHz
		if math.Abs(delta) <= ConvergeHz {
			return Result{Iterations: i, Converged: true, FinalFrequency: selected}, nil
		}

		step := p.translate(delta)
		if err := p.axis.MoveRelativeMM(ctx, step, true); err != nil {
			return Result{}, fmt.Errorf("puller: move: %w", err)
		}

		if err := p.vna.SetWindow(ctx, selected, SetSpanHz, p.detectOpts.RBWHz, p.detectOpts.PowerDBm); err != nil {
			return Result{}, fmt.Errorf("puller: set window: %w", err)
		}

		redetected, err := detect.Detect(ctx, p.vna, selected-RedetectWindowHz/2, selected+RedetectWindowHz/2, p.detectOpts)
		if err != nil {
			return Result{}, fmt.Errorf("puller: re-detect: %w", err)
		}
		if len(redetected) == 0 {
			log.Warn("puller: re-detect window empty, falling back to broad re-tune", "around_hz", selected)
			broad, err := detect.Detect(ctx, p.vna, targetHz-InitialWindowHz/2, targetHz+InitialWindowHz/2, p.detectOpts)
			if err != nil {
				return Result{}, fmt.Errorf("puller: broad re-tune: %w", err)
			}
			if len(broad) == 0 {
				return Result{Iterations: i + 1, Converged: false, FinalFrequency: selected}, nil
			}
			selected, err = deepest(ctx, probe, broad)
			if err != nil {
				return Result{}, err
			}
			return Result{Iterations: i + 1, Converged: false, FinalFrequency: selected}, nil
		}

		// Re-selects by minimum depth rather than taking redetected[0]
		// (the original's choice); both are defensible re-detect policies,
		// but this is a deliberate divergence, not an oversight.
		selected, err = deepest(ctx, probe, redetected)
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Iterations: MaxIterations, Converged: false, FinalFrequency: selected}, nil
}

// deepest returns the candidate frequency with the minimum measured depth,
// per the puller's "resolve to minimum depth, not smallest frequency error"
// selection rule.
func deepest(ctx context.Context, probe *depth.Probe, candidates []float64) (float64, error) {
	best := candidates[0]
	bestDepth := math.Inf(1)
	for _, f := range candidates {
		r, err := probe.Measure(ctx, f)
		if err != nil {
			return 0, fmt.Errorf("puller: depth probe at %g Hz: %w", f, err)
		}
		if r.DepthLinear < bestDepth {
			bestDepth = r.DepthLinear
			best = f
		}
	}
	return best, nil
}

package tuning

import (
	"context"
	"math"

	"github.com/filtcav/fctune/depth"
	"github.com/filtcav/fctune/detect"
	"github.com/filtcav/fctune/instrument"
)

// CostParams holds the tolerances the cost function normalizes by: omega_eps
// (frequency) and d_eps (depth).
type CostParams struct {
	TargetHz  float64
	SpanHz    float64
	OmegaEps  float64
	DepthEps  float64
}

// costFunction wraps the VNA façade plus detector/probe options needed to
// evaluate C8: detect resonances in [target-span/2, target+span/2], refine
// each candidate's depth and frequency, and return the minimum normalized
// cost across candidates.
type costFunction struct {
	vna        instrument.VNA
	detectOpts detect.Options
	probe      *depth.Probe
}

func newCostFunction(vna instrument.VNA, detectOpts detect.Options, probe *depth.Probe) *costFunction {
	return &costFunction{vna: vna, detectOpts: detectOpts, probe: probe}
}

// evaluate returns the minimum normalized cost over detected candidates. An
// empty detection result is reported as +Inf cost. Per spec.md §4.1,
// Autoscale is cosmetic and runs once after every evaluation (whether or
// not a candidate was found) to keep the instrument's display rescaled to
// whatever trace the detector just acquired; its error is still surfaced,
// not swallowed, per §4.1's "never swallowed" failure semantics.
//
// The depth-tolerance termination predicate is deliberately NOT derived
// from this function's candidates: spec.md §4.4 is emphatic that the
// optimizer must probe residual depth at the target frequency itself, not
// at a detected candidate's own minimum. See controller.onEvaluate, which
// takes its own separate depth.Probe reading at the target.
func (c *costFunction) evaluate(ctx context.Context, p CostParams) (cost float64, err error) {
	resonances, err := detect.Detect(ctx, c.vna, p.TargetHz-p.SpanHz/2, p.TargetHz+p.SpanHz/2, c.detectOpts)
	if err != nil {
		return 0, wrapInstrument("cost detect", err)
	}

	cost = math.Inf(1)
	for _, f := range resonances {
		r, err := c.probe.Measure(ctx, f)
		if err != nil {
			return 0, wrapInstrument("cost depth probe", err)
		}
		dfTerm := (r.FrequencyHz - p.TargetHz) / p.OmegaEps
		ddTerm := r.DepthLinear / p.DepthEps
		l := dfTerm*dfTerm + ddTerm*ddTerm
		if l < cost {
			cost = l
		}
	}

	if aerr := c.vna.Autoscale(ctx); aerr != nil {
		return 0, wrapInstrument("cost autoscale", aerr)
	}
	return cost, nil
}

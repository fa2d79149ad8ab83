package tuning

import (
	"context"
	"math"

	"github.com/filtcav/fctune/depth"
)

// outcome is the result union the evaluator returns instead of using
// exception-style control flow to unwind once depth tolerance is met.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeDepthMet
	outcomeCancelled
	outcomeFailed
)

// IterationRecord is one row of the iteration log: the evaluated point and
// its cost.
type IterationRecord struct {
	Point Point
	Cost  float64
}

// controller owns everything the per-vertex evaluator and the per-iteration
// callback must share: the iteration counter, the span-narrowing schedule,
// and the best-so-far point. It replaces the ambient globals (x_min,
// level_min, iteration counter, current span) the callback/evaluator pair
// would otherwise need.
type controller struct {
	cost        *costFunction
	targetProbe *depth.Probe // narrow-span probe at params.TargetHz; distinct from the candidate probing cost.evaluate does internally
	params      CostParams
	depthEps    float64

	iteration int
	bestPoint Point
	bestCost  float64
	bestDepth float64 // minimum depth_at(target) seen across all evaluations, in the probe's own (linear) units
	log       []IterationRecord
	failure   error
}

func newController(cost *costFunction, targetProbe *depth.Probe, params CostParams, depthEps float64) *controller {
	return &controller{cost: cost, targetProbe: targetProbe, params: params, depthEps: depthEps, bestCost: math.Inf(1), bestDepth: math.Inf(1)}
}

// onEvaluate evaluates the cost at p, records it, and reports whether the
// search should continue, terminate on depth tolerance, or has failed.
//
// Depth-tolerance termination is checked against depth_at(target), a
// dedicated narrow-span probe reading at c.params.TargetHz — not the best
// candidate's own depth that cost.evaluate used internally. Spec.md §4.4:
// "the optimizer tests residual depth at the target frequency, not at the
// resonance's actual minimum."
func (c *controller) onEvaluate(ctx context.Context, p Point) (float64, outcome) {
	select {
	case <-ctx.Done():
		return 0, outcomeCancelled
	default:
	}

	cost, err := c.cost.evaluate(ctx, c.params)
	if err != nil {
		c.failure = err
		return 0, outcomeFailed
	}

	depthAtTarget, err := c.targetProbe.Measure(ctx, c.params.TargetHz)
	if err != nil {
		c.failure = wrapInstrument("controller depth at target", err)
		return 0, outcomeFailed
	}

	c.log = append(c.log, IterationRecord{Point: p, Cost: cost})
	if cost < c.bestCost {
		c.bestCost = cost
		c.bestPoint = p
	}
	if depthAtTarget.DepthLinear < c.bestDepth {
		c.bestDepth = depthAtTarget.DepthLinear
	}

	if depthAtTarget.DepthLinear < c.depthEps {
		return cost, outcomeDepthMet
	}
	return cost, outcomeContinue
}

// onIteration advances the iteration counter, narrows the active span per
// the schedule (200 MHz up to n<=5, 100 MHz for 6<=n<=20, 50 MHz after), and
// reports whether the narrowed state already satisfies termination. The
// depth recheck compares the best depth_at(target) seen so far against
// depthEps directly — not the combined normalized cost, which mixes in the
// frequency-offset term and is not comparable to a raw depth tolerance.
func (c *controller) onIteration() outcome {
	c.iteration++
	switch {
	case c.iteration <= 5:
		c.params.SpanHz = 200e6
	case c.iteration <= 20:
		c.params.SpanHz = 100e6
	default:
		c.params.SpanHz = 50e6
	}
	if c.bestDepth < c.depthEps {
		return outcomeDepthMet
	}
	return outcomeContinue
}

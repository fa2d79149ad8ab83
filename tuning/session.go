// Package tuning implements the closed-loop tuning controller: the cost
// function (C8), the bounded Nelder-Mead driver (C9), and the Session that
// brackets a full tuning run with a guaranteed VNA park/unpark.
package tuning

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/filtcav/fctune/coupling"
	"github.com/filtcav/fctune/depth"
	"github.com/filtcav/fctune/detect"
	"github.com/filtcav/fctune/instrument"
	"github.com/filtcav/fctune/lookup"
	"github.com/filtcav/fctune/puller"
)

// cleanupTimeout bounds the guaranteed unpark/re-center step run in Session.Run's
// deferred cleanup, which must complete even when the caller's context is
// already cancelled (e.g. operator interrupt mid-tune).
const cleanupTimeout = 5 * time.Second

// Default tolerances, matching the source's err_depth (1e-3, linear) and
// err_lin (1e4 Hz).
const (
	DefaultDepthEps = 1e-3
	DefaultOmegaEps = 1e4

	DefaultLinSpanMM      = 0.5
	DefaultCouplingSpan   = 0.1 * 2 * math.Pi
	MaxSimplexIterations  = 40
)

// Options mirrors the CLI / entry-point surface named in spec.md §6.
//
// SmallChange is a *bool (rather than bool) because its documented default
// is true: a zero-value bool can't distinguish "caller didn't set this" from
// "caller explicitly wants false", so withDefaults would otherwise silently
// turn every Options{} literal into small_change=false. A nil SmallChange
// means "use the default"; BoolPtr is a convenience for callers that want to
// set it explicitly.
type Options struct {
	Verbose      bool
	LinSpanMM    float64 // default 0.5
	CouplingSpan float64 // default 0.1*2*pi
	SmallChange  *bool   // default true
	ScanCoupling bool    // default false

	DepthEps float64 // default 1e-3
	OmegaEps float64 // default 1e4
}

// BoolPtr returns a pointer to v, for populating Options.SmallChange from a
// literal.
func BoolPtr(v bool) *bool { return &v }

func (o Options) withDefaults() Options {
	if o.LinSpanMM == 0 {
		o.LinSpanMM = DefaultLinSpanMM
	}
	if o.CouplingSpan == 0 {
		o.CouplingSpan = DefaultCouplingSpan
	}
	if o.SmallChange == nil {
		o.SmallChange = BoolPtr(true)
	}
	if o.DepthEps == 0 {
		o.DepthEps = DefaultDepthEps
	}
	if o.OmegaEps == 0 {
		o.OmegaEps = DefaultOmegaEps
	}
	return o
}

// Session orchestrates one full tuning run: it opens the VNA park/unpark
// bracket, optionally runs the cold-start lookup+coarse-pull and the
// coupling scan, then drives the bounded Nelder-Mead search.
type Session struct {
	vna    instrument.VNA
	linear instrument.LinearAxis
	rotary instrument.RotaryAxis
	table  *lookup.Table
	opts   Options
}

// NewSession wires the façades a session needs. table may be nil; a nil
// table is treated as a lookup miss for every target.
func NewSession(vna instrument.VNA, linear instrument.LinearAxis, rotary instrument.RotaryAxis, table *lookup.Table, opts Options) *Session {
	return &Session{vna: vna, linear: linear, rotary: rotary, table: table, opts: opts.withDefaults()}
}

// Result is returned on every exit path, success or not.
type Result struct {
	BestPoint     Point
	BestCost      float64
	Iterations    int
	Converged     bool
	Log           []IterationRecord
	Convergence   *ConvergenceFailure // non-nil iff the iteration cap was hit
}

// Run tunes the cavity to targetHz, bracketing the whole attempt with a VNA
// park/unpark regardless of outcome, then re-centering the VNA on targetHz
// before returning.
func (s *Session) Run(ctx context.Context, targetHz float64) (Result, error) {
	saved, err := s.vna.Park(ctx)
	if err != nil {
		return Result{}, wrapInstrument("session park", err)
	}
	defer func() {
		// The guaranteed unpark/re-center must run even if ctx was cancelled
		// mid-session (spec.md §5: cancellation MUST still run the VNA unpark
		// and end-of-session hook), so cleanup gets its own background context
		// rather than inheriting the caller's cancellation.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if uerr := s.vna.Unpark(cleanupCtx, saved); uerr != nil {
			log.Error("tuning: failed to restore parked VNA settings", "err", uerr)
		}
		if cerr := s.vna.SetWindow(cleanupCtx, targetHz, 200e6, 1e6, -10); cerr != nil {
			log.Error("tuning: failed to re-center VNA on target", "err", cerr)
		}
	}()

	x0, err := s.coldStart(ctx, targetHz)
	if err != nil {
		var rangeErr *OutOfRangeError
		if !errors.As(err, &rangeErr) {
			return Result{}, err
		}
		log.Warn("tuning: out-of-range condition during cold start, attempting best-effort", "reason", rangeErr.Reason)
	}

	if s.opts.ScanCoupling {
		scanner := coupling.New(s.vna, s.rotary, coupling.Options{})
		if _, err := scanner.Scan(ctx, targetHz); err != nil {
			return Result{}, wrapInstrument("coupling scan", err)
		}
	}

	return s.runSimplex(ctx, targetHz, x0)
}

// coldStart resolves the starting point x0 from the current axis position,
// or (when small_change is false) via the lookup table and coarse puller.
func (s *Session) coldStart(ctx context.Context, targetHz float64) (Point, error) {
	lengthMM, err := s.linear.CurrentPositionMM(ctx)
	if err != nil {
		return Point{}, wrapInstrument("read linear position", err)
	}
	couplingSteps, err := s.rotary.CurrentPosition(ctx)
	if err != nil {
		return Point{}, wrapInstrument("read rotary position", err)
	}
	x0 := Point{LengthMM: lengthMM, CouplingSteps: float64(couplingSteps)}

	if s.opts.SmallChange == nil || *s.opts.SmallChange {
		return x0, nil
	}

	var candidates []float64
	if s.table != nil {
		candidates = s.table.Candidates(targetHz)
	}
	if len(candidates) == 0 {
		return x0, &OutOfRangeError{Reason: "lookup returned no candidates and mode is not small_change"}
	}

	if err := s.linear.MoveAbsoluteMM(ctx, candidates[0], true); err != nil {
		return Point{}, wrapInstrument("move to lookup candidate", err)
	}

	p := puller.New(s.vna, s.linear, s.rotary, detect.Options{}, depth.Options{}, coupling.Options{}, nil)
	if _, err := p.Pull(ctx, targetHz); err != nil {
		return Point{}, wrapInstrument("coarse pull", err)
	}

	lengthMM, err = s.linear.CurrentPositionMM(ctx)
	if err != nil {
		return Point{}, wrapInstrument("read linear position after pull", err)
	}
	return Point{LengthMM: lengthMM, CouplingSteps: x0.CouplingSteps}, nil
}

// runSimplex drives the bounded Nelder-Mead search from x0 until depth
// tolerance is met, the simplex converges, the iteration cap (40) is
// reached, or an upstream failure occurs.
func (s *Session) runSimplex(ctx context.Context, targetHz float64, x0 Point) (Result, error) {
	bounds := Bounds{LengthMinMM: x0.LengthMM - s.opts.LinSpanMM, LengthMaxMM: x0.LengthMM + s.opts.LinSpanMM}

	probe := depth.New(s.vna, depth.Options{})
	cost := newCostFunction(s.vna, detect.Options{}, probe)
	ctrl := newController(cost, probe, CostParams{TargetHz: targetHz, SpanHz: 200e6, OmegaEps: s.opts.OmegaEps, DepthEps: s.opts.DepthEps}, s.opts.DepthEps)

	evaluate := func(p Point) (float64, error) {
		if err := s.moveTo(ctx, p); err != nil {
			return 0, err
		}
		l, oc := ctrl.onEvaluate(ctx, p)
		switch oc {
		case outcomeDepthMet:
			return l, termination
		case outcomeCancelled:
			return 0, ctx.Err()
		case outcomeFailed:
			return 0, ctrl.failure
		default:
			return l, nil
		}
	}

	sx, err := newSimplex(x0, s.opts.CouplingSpan, bounds, evaluate)
	if err == termination {
		return s.finish(ctrl, true), nil
	}
	if err != nil {
		return s.finish(ctrl, false), err
	}

	for iter := 0; iter < MaxSimplexIterations; iter++ {
		if sx.converged() {
			return s.finish(ctrl, false), nil
		}
		if err := sx.step(evaluate); err != nil {
			if err == termination {
				return s.finish(ctrl, true), nil
			}
			return s.finish(ctrl, false), err
		}
		if oc := ctrl.onIteration(); oc == outcomeDepthMet {
			return s.finish(ctrl, true), nil
		}
	}

	res := s.finish(ctrl, false)
	res.Convergence = &ConvergenceFailure{Iterations: ctrl.iteration}
	return res, nil
}

func (s *Session) moveTo(ctx context.Context, p Point) error {
	if err := s.linear.MoveAbsoluteMM(ctx, p.LengthMM, true); err != nil {
		return wrapInstrument("move linear", err)
	}
	// Round rather than truncate: repeated contraction/shrink steps produce
	// sub-step fractional deltas, and truncating toward zero can collapse two
	// simplex vertices the search treats as distinct onto the same physical
	// rotary position.
	if err := s.rotary.MoveAbsolute(ctx, int64(math.Round(p.CouplingSteps)), true); err != nil {
		return wrapInstrument("move rotary", err)
	}
	return nil
}

func (s *Session) finish(ctrl *controller, converged bool) Result {
	return Result{
		BestPoint:  ctrl.bestPoint,
		BestCost:   ctrl.bestCost,
		Iterations: ctrl.iteration,
		Converged:  converged,
		Log:        ctrl.log,
	}
}


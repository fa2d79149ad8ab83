package scpi

import (
	"context"
	"fmt"
	"time"

	"github.com/filtcav/fctune/instrument"
)

// ParkWindow is the out-of-band configuration applied by VNA.Park. It sits
// well clear of any cavity mode so the instrument is not radiating into the
// cavity while the tuning loop is not actively measuring it.
var ParkWindow = instrument.Window{
	CenterHz: 1e9,
	SpanHz:   1e6,
	RBWHz:    1e5,
	PowerDBm: -30,
	NOP:      51,
}

const maxNOP = 100_000

// VNA implements instrument.VNA against a SCPI instrument reachable at the
// given Client. Commands follow the subset described in spec.md §6:
// frequency span/start/stop, power, bandwidth, nop, display autoscale, and
// an electrical-delay auto-calibration. No output on/off command is sent.
type VNA struct {
	client  *Client
	settle  time.Duration
	cur     instrument.Window
	haveCur bool
}

// NewVNA wraps an already-dialed Client.
func NewVNA(client *Client) *VNA {
	return &VNA{client: client, settle: 300 * time.Millisecond}
}

// SetWindow applies center/span/rbw/power and derives nop per the
// points-per-bandwidth invariant (nop >= 5*span/rbw), capped at maxNOP;
// when 5*span/rbw exceeds maxNOP the invariant does not hold.
func (v *VNA) SetWindow(ctx context.Context, center, span, rbw, powerDBm float64) error {
	if rbw <= 0 {
		return fmt.Errorf("scpi: rbw must be positive, got %g", rbw)
	}
	if powerDBm > 10 {
		return fmt.Errorf("scpi: power %gdBm exceeds instrument maximum of +10dBm", powerDBm)
	}
	nop := instrument.PointsForBandwidth(span, rbw, 5)
	if nop > maxNOP {
		nop = maxNOP
	}
	start := center - span/2
	stop := center + span/2

	for _, cmd := range []string{
		fmt.Sprintf("SOUR:POW %g", powerDBm),
		fmt.Sprintf("SENS:FREQ:SPAN %g", span),
		fmt.Sprintf("SENS:FREQ:STAR %g", start),
		fmt.Sprintf("SENS:FREQ:STOP %g", stop),
		fmt.Sprintf("SENS:BWID %g", rbw),
		fmt.Sprintf("SENS:SWE:POIN %d", nop),
	} {
		if err := v.client.Write(ctx, cmd); err != nil {
			return err
		}
	}

	v.cur = instrument.Window{CenterHz: center, SpanHz: span, RBWHz: rbw, PowerDBm: powerDBm, NOP: nop, PowerOn: true}
	v.haveCur = true

	select {
	case <-time.After(v.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Window returns the last-applied sweep settings.
func (v *VNA) Window(ctx context.Context) (instrument.Window, error) {
	if !v.haveCur {
		return instrument.Window{}, fmt.Errorf("scpi: no window has been set yet")
	}
	return v.cur, nil
}

// Acquire performs a single sweep and parses the returned trace, which
// arrives as a comma-separated alternating real/imaginary list of length
// 2*nop.
func (v *VNA) Acquire(ctx context.Context) (instrument.Trace, error) {
	if !v.haveCur {
		return instrument.Trace{}, fmt.Errorf("scpi: cannot acquire before SetWindow")
	}
	raw, err := v.client.QueryCSVFloats(ctx, "CALC:DATA:SDAT?")
	if err != nil {
		return instrument.Trace{}, err
	}
	if len(raw)%2 != 0 {
		return instrument.Trace{}, fmt.Errorf("scpi: trace data has odd length %d", len(raw))
	}
	n := len(raw) / 2
	freqs := make([]float64, n)
	samples := make([]complex128, n)
	re := make([]float64, n)
	im := make([]float64, n)
	start := v.cur.CenterHz - v.cur.SpanHz/2
	step := 0.0
	if n > 1 {
		step = v.cur.SpanHz / float64(n-1)
	}
	for i := 0; i < n; i++ {
		re[i] = raw[2*i]
		im[i] = raw[2*i+1]
		samples[i] = complex(re[i], im[i])
		freqs[i] = start + step*float64(i)
	}
	return instrument.Trace{FrequencyHz: freqs, Samples: samples}, nil
}

// Park moves to the out-of-band ParkWindow and returns the settings that
// were in effect beforehand.
func (v *VNA) Park(ctx context.Context) (instrument.Window, error) {
	saved := v.cur
	if !v.haveCur {
		saved = instrument.Window{}
	}
	if err := v.SetWindow(ctx, ParkWindow.CenterHz, ParkWindow.SpanHz, ParkWindow.RBWHz, ParkWindow.PowerDBm); err != nil {
		return instrument.Window{}, fmt.Errorf("scpi: park: %w", err)
	}
	return saved, nil
}

// Unpark restores previously captured settings. It is a no-op when saved
// is the zero Window, matching the idempotence requirement for sessions
// that park before any window has ever been set.
func (v *VNA) Unpark(ctx context.Context, saved instrument.Window) error {
	if saved == (instrument.Window{}) {
		return nil
	}
	return v.SetWindow(ctx, saved.CenterHz, saved.SpanHz, saved.RBWHz, saved.PowerDBm)
}

// Autoscale issues a cosmetic autoscale, invoked after each cost evaluation.
func (v *VNA) Autoscale(ctx context.Context) error {
	return v.client.Write(ctx, "DISP:WIND:TRAC:Y:AUTO")
}

// ElectricalDelayAuto runs the one-shot electrical-delay calibration used
// to flatten the phase baseline before wideband sweeps.
func (v *VNA) ElectricalDelayAuto(ctx context.Context) error {
	if err := v.client.Write(ctx, "CALC:CORR:EDEL:AUTO ONCE"); err != nil {
		return err
	}
	select {
	case <-time.After(v.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Package store persists the diagnostic artifacts named in spec.md §6: raw
// VNA traces, a per-session resonance dictionary, and a peak dictionary.
// Python's original uses numpy .npy/.npz files; this package uses
// encoding/gob, the closest round-trippable equivalent in the standard
// library for Go's own types (no third-party serialization format in the
// example pack targets this use case — gob is the deliberate stdlib
// exception here, justified in the project's design notes).
package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/filtcav/fctune/instrument"
)

// TraceRecord is a persisted raw trace, numbered within a session.
type TraceRecord struct {
	Index int
	Trace instrument.Trace
}

// ResonanceRecord is one entry of the per-session resonance dictionary:
// the window a resonance was found in and its refined measurement.
type ResonanceRecord struct {
	Window    instrument.Window
	Resonance instrument.Resonance
}

// PeakRecord is one entry of the peak dictionary: a raw detector candidate
// before depth refinement.
type PeakRecord struct {
	FrequencyHz float64
	GradientMax float64
}

// TracePath returns the conventional path for the i-th raw trace file under
// dataPath, matching <data_path>/Raw_data/vna_traces/vna_trace_<i>/vna_trace.dat.
func TracePath(dataPath string, i int) string {
	return filepath.Join(dataPath, "Raw_data", "vna_traces", fmt.Sprintf("vna_trace_%d", i), "vna_trace.dat")
}

// SaveTrace gob-encodes a TraceRecord to TracePath(dataPath, rec.Index),
// creating parent directories as needed.
func SaveTrace(dataPath string, rec TraceRecord) error {
	path := TracePath(dataPath, rec.Index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create trace directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create trace file %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("store: encode trace: %w", err)
	}
	return nil
}

// LoadTrace decodes a previously saved TraceRecord.
func LoadTrace(dataPath string, i int) (TraceRecord, error) {
	path := TracePath(dataPath, i)
	f, err := os.Open(path)
	if err != nil {
		return TraceRecord{}, fmt.Errorf("store: open trace file %s: %w", path, err)
	}
	defer f.Close()
	var rec TraceRecord
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return TraceRecord{}, fmt.Errorf("store: decode trace: %w", err)
	}
	return rec, nil
}

// SuperDict is the per-session resonance dictionary, keyed by a caller-
// chosen label (the Python original keys its superdict.npy by window
// center frequency).
type SuperDict map[string]ResonanceRecord

// PeakDict is the peak dictionary, keyed the same way.
type PeakDict map[string]PeakRecord

// superDictPath and peakDictPath mirror <portpath>/superdict.npy and
// <portpath>/peakdict.npy, substituting a gob-friendly extension.
func superDictPath(portPath string) string { return filepath.Join(portPath, "superdict.gob") }
func peakDictPath(portPath string) string  { return filepath.Join(portPath, "peakdict.gob") }

// SaveSuperDict persists the resonance dictionary for a session.
func SaveSuperDict(portPath string, d SuperDict) error {
	return saveGob(superDictPath(portPath), d)
}

// LoadSuperDict loads a previously persisted resonance dictionary. A
// missing file yields an empty, non-nil dictionary rather than an error:
// the first session at a given port has no prior dictionary.
func LoadSuperDict(portPath string) (SuperDict, error) {
	d := SuperDict{}
	if err := loadGob(superDictPath(portPath), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// SavePeakDict persists the peak dictionary for a session.
func SavePeakDict(portPath string, d PeakDict) error {
	return saveGob(peakDictPath(portPath), d)
}

// LoadPeakDict loads a previously persisted peak dictionary.
func LoadPeakDict(portPath string) (PeakDict, error) {
	d := PeakDict{}
	if err := loadGob(peakDictPath(portPath), &d); err != nil {
		return nil, err
	}
	return d, nil
}

func saveGob(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	return nil
}

func loadGob(path string, v any) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

// TracingVNA wraps an instrument.VNA, persisting every acquired trace under
// dataPath via SaveTrace before returning it to the caller. It is the
// diagnostic raw-trace seam named in spec.md §6, enabled by cmd/fctune when
// the configuration's data_path is set: every other VNA method passes
// straight through.
type TracingVNA struct {
	instrument.VNA
	dataPath string
	next     atomic.Int64
}

// NewTracingVNA wraps vna so every Acquire is additionally persisted as a
// numbered raw-trace file under dataPath.
func NewTracingVNA(vna instrument.VNA, dataPath string) *TracingVNA {
	return &TracingVNA{VNA: vna, dataPath: dataPath}
}

// Acquire delegates to the wrapped VNA, then persists the resulting trace
// under an incrementing index before returning it. A persistence failure is
// logged by the caller's choice of error handling, not swallowed here.
func (t *TracingVNA) Acquire(ctx context.Context) (instrument.Trace, error) {
	tr, err := t.VNA.Acquire(ctx)
	if err != nil {
		return tr, err
	}
	idx := int(t.next.Add(1) - 1)
	if serr := SaveTrace(t.dataPath, TraceRecord{Index: idx, Trace: tr}); serr != nil {
		return tr, fmt.Errorf("store: persist trace %d: %w", idx, serr)
	}
	return tr, nil
}

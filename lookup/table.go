// Package lookup implements the cold-start mode-lookup table (C5): an
// immutable (frequency_ghz, length_mm) table loaded once per session and
// queried for candidate linear-stage positions near a target frequency.
package lookup

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/log"
)

// MatchWindowGHz and MinSpacingMM are the defaults named in spec.md §4.5:
// a 10 MHz frequency-match window and a 1.8 mm minimum retained spacing.
const (
	MatchWindowGHz = 0.01
	MinSpacingMM   = 1.8
)

// Row is a single lookup-table entry.
type Row struct {
	FrequencyGHz float64
	LengthMM     float64
}

// Table is an immutable, ascending-by-length list of Rows loaded once per
// session. Missing or malformed source files are a fatal initialization
// error, per spec.md §6.
type Table struct {
	rows []Row
}

// Load reads a headerless two-column CSV (frequency_ghz, length_mm) from
// path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lookup: open table %s: %w", path, err)
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader reads the table from an arbitrary reader, for tests.
func LoadReader(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lookup: parse table: %w", err)
		}
		freq, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("lookup: parse frequency_ghz %q: %w", rec[0], err)
		}
		length, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("lookup: parse length_mm %q: %w", rec[1], err)
		}
		rows = append(rows, Row{FrequencyGHz: freq, LengthMM: length})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LengthMM < rows[j].LengthMM })
	return &Table{rows: rows}, nil
}

// Candidates returns ascending linear-stage positions (mm) whose row
// frequency lies within MatchWindowGHz of targetHz, deduplicated so that
// consecutive retained entries differ by at least MinSpacingMM. The first
// matching row is always retained; the rest are kept only if they exceed
// the last-retained position by MinSpacingMM or more.
//
// An empty result is not an error: the caller emits a warning and proceeds
// best-effort from the current position.
func (t *Table) Candidates(targetHz float64) []float64 {
	targetGHz := targetHz / 1e9
	var matches []float64
	for _, row := range t.rows {
		if abs(row.FrequencyGHz-targetGHz) < MatchWindowGHz {
			matches = append(matches, row.LengthMM)
		}
	}
	sort.Float64s(matches)

	if len(matches) == 0 {
		log.Warn("lookup: no table rows within match window", "target_hz", targetHz)
		return nil
	}

	out := []float64{matches[0]}
	last := matches[0]
	for _, m := range matches[1:] {
		if m-last >= MinSpacingMM {
			out = append(out, m)
			last = m
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

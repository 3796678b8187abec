// Package validator enforces the integrity invariants on a fetch result
// before it is handed to the assembler: a completeness floor, a leading
// contiguous prefix, a bound on the longest gap, and a container-format
// marker check on the assembled output.
//
// The byte-level TS sync-byte and fMP4 ftyp checks are the fast path;
// when a check is inconclusive the deep checks fall back to
// asticode/go-astits (TS packet structure) and bluenviron/mediacommon
// (fMP4 box structure) so a failure message can name the actual
// malformed packet or box instead of just an offset.
package validator

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jmylchreest/hlsfetch/internal/segments"
)

// Config holds the validator's tunable thresholds, mirroring
// config.ValidatorConfig.
type Config struct {
	CompletenessFloor  float64
	LeadingPrefixCount int
	MaxConsecutiveGap  int
}

// DefaultConfig returns the thresholds named in §3/§4.F.
func DefaultConfig() Config {
	return Config{
		CompletenessFloor:  0.98,
		LeadingPrefixCount: 5,
		MaxConsecutiveGap:  3,
	}
}

// Report is the computed outcome of validating one fetch result.
type Report struct {
	MissingIndices        []int
	SuccessRate           float64
	MaxConsecutiveMissing int
	Warnings              []string
}

// Result is a sentinel-wrapped validation failure, in the style of the
// reference pipeline's StageError: a single concrete type carrying enough
// context (Reason plus the computed Report) for callers to build a
// PipelineError without re-deriving the numbers.
type Result struct {
	Reason string
	Report Report
}

func (e *Result) Error() string {
	return fmt.Sprintf("validator: %s (success_rate=%.4f, max_consecutive_missing=%d)",
		e.Reason, e.Report.SuccessRate, e.Report.MaxConsecutiveMissing)
}

// Validator checks a segments.FetchResult against the configured
// thresholds and the assembled output's container markers.
type Validator struct {
	cfg Config
}

// New builds a Validator with cfg.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// CheckFetch computes missing_indices/success_rate/max_consecutive_missing
// over a fetch result spanning total segments and fails fatally per the
// rules in §4.F. A non-nil, non-fatal Report is returned alongside a nil
// error when warnings apply but the job may proceed.
func (v *Validator) CheckFetch(result *segments.FetchResult, total int) (*Report, error) {
	missing := append([]int(nil), result.FailedIndices...)
	sort.Ints(missing)

	report := &Report{
		MissingIndices: missing,
		SuccessRate:    result.SuccessRate,
	}

	report.MaxConsecutiveMissing = maxConsecutiveRun(missing)

	if report.SuccessRate < v.cfg.CompletenessFloor {
		return report, &Result{Reason: fmt.Sprintf("success_rate %.4f below floor %.4f", report.SuccessRate, v.cfg.CompletenessFloor), Report: *report}
	}

	leading := v.cfg.LeadingPrefixCount
	if leading > total {
		leading = total
	}
	for i := 0; i < leading; i++ {
		if containsInt(missing, i) {
			return report, &Result{Reason: fmt.Sprintf("leading index %d missing", i), Report: *report}
		}
	}

	if report.MaxConsecutiveMissing > v.cfg.MaxConsecutiveGap {
		return report, &Result{Reason: "consecutive gap exceeds bound", Report: *report}
	}

	if len(result.Payloads) == 0 || result.Payloads[0].Index != 0 {
		return report, &Result{Reason: "first payload index is not 0", Report: *report}
	}

	for _, p := range result.Payloads[1:] {
		if len(p.Bytes) == 0 {
			return report, &Result{Reason: fmt.Sprintf("non-leading payload %d has zero length", p.Index), Report: *report}
		}
	}

	if len(missing) > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d segment(s) missing but within tolerance", len(missing)))
	}

	return report, nil
}

// CheckTS validates the MPEG-TS sync byte at offset 0 against the fast
// path; a mismatch is a warning, not fatal, per §4.F. When inconclusive
// (the fast check fails) it asks go-astits to demux the first packet so
// the warning can name the real problem.
func (v *Validator) CheckTS(data []byte) []string {
	if len(data) > 0 && data[0] == 0x47 {
		return nil
	}

	warning := "TS sync byte 0x47 not found at offset 0"
	if detail := tsDeepCheck(data); detail != "" {
		warning = detail
	}
	return []string{warning}
}

// CheckFMP4 validates the ftyp box at bytes [4:8) against the fast path;
// a mismatch is fatal per §4.F. When inconclusive it asks mediacommon to
// parse the init segment so the error can name the actual malformed box.
func (v *Validator) CheckFMP4(data []byte) error {
	if len(data) >= 8 && string(data[4:8]) == "ftyp" {
		return nil
	}

	if detail := fmp4DeepCheck(data); detail != "" {
		return &Result{Reason: detail}
	}
	return &Result{Reason: "fMP4 output missing ftyp box at offset 4"}
}

// tsDeepCheck asks go-astits to parse the first packet, surfacing its
// error as a human-readable detail when the fast sync-byte check fails.
func tsDeepCheck(data []byte) string {
	if len(data) == 0 {
		return "TS output is empty"
	}
	dmx := astits.New(context.Background(), bytes.NewReader(data))
	_, err := dmx.NextPacket()
	if err != nil {
		return fmt.Sprintf("TS packet demux failed: %v", err)
	}
	return ""
}

// fmp4DeepCheck asks mediacommon to parse the init segment boxes,
// surfacing the real box-level error when the fast ftyp check fails.
func fmp4DeepCheck(data []byte) string {
	if len(data) == 0 {
		return "fMP4 init segment is empty"
	}
	var init fmp4.Init
	if err := init.Unmarshal(data); err != nil {
		return fmt.Sprintf("fMP4 init box parse failed: %v", err)
	}
	return ""
}

func maxConsecutiveRun(sortedMissing []int) int {
	if len(sortedMissing) == 0 {
		return 0
	}
	maxRun, run := 1, 1
	for i := 1; i < len(sortedMissing); i++ {
		if sortedMissing[i] == sortedMissing[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > maxRun {
			maxRun = run
		}
	}
	return maxRun
}

func containsInt(sorted []int, target int) bool {
	i := sort.SearchInts(sorted, target)
	return i < len(sorted) && sorted[i] == target
}

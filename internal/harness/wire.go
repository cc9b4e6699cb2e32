// Package harness executes invocations. The default runner re-executes the
// validator binary with a hidden subcommand so every test runs in a
// disposable child process: a plugin that segfaults or hangs takes the
// child down and the parent records a crash or timeout instead of dying
// with it. Parent and child speak JSON over standard streams: one
// Invocation on the child's stdin, one TestResult on its stdout, logs on
// stderr.
package harness

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/clapcheck/clapcheck/internal/report"
)

// MaxResultBytes bounds how much of the child's stdout the parent keeps. A
// plugin that sprays stdout cannot balloon the parent's memory; anything
// over the limit is a protocol violation and surfaces as a crash.
const MaxResultBytes = 1 << 20

// EncodeInvocation serializes an Invocation to JSON and writes it to w.
func EncodeInvocation(w io.Writer, inv report.Invocation) error {
	if inv.ID == uuid.Nil {
		return fmt.Errorf("invocation has no ID")
	}
	if inv.Library == "" {
		return fmt.Errorf("invocation has no library path")
	}
	if inv.TestID == "" {
		return fmt.Errorf("invocation has no test ID")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(inv); err != nil {
		return fmt.Errorf("failed to encode invocation: %w", err)
	}

	return nil
}

// DecodeInvocation reads and deserializes an Invocation from r. Unknown
// fields are rejected: parent and child are the same binary, so any
// disagreement about the wire format is a bug, not a version skew.
func DecodeInvocation(r io.Reader) (report.Invocation, error) {
	var inv report.Invocation

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&inv); err != nil {
		return report.Invocation{}, fmt.Errorf("failed to decode invocation: %w", err)
	}

	if inv.ID == uuid.Nil {
		return report.Invocation{}, fmt.Errorf("invocation missing required field: id")
	}
	if inv.Library == "" {
		return report.Invocation{}, fmt.Errorf("invocation missing required field: library")
	}
	if inv.TestID == "" {
		return report.Invocation{}, fmt.Errorf("invocation missing required field: test_id")
	}

	return inv, nil
}

// EncodeResult serializes a TestResult to JSON and writes it to w. This is
// the only thing a well-behaved child ever writes to stdout.
func EncodeResult(w io.Writer, res report.TestResult) error {
	if !res.Outcome.Valid() {
		return fmt.Errorf("invalid outcome: %q", res.Outcome)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return nil
}

// DecodeResult reads at most MaxResultBytes from r and deserializes the
// single TestResult a child must emit. It returns the raw bytes alongside
// the error so protocol violations can be reported verbatim.
func DecodeResult(r io.Reader) (report.TestResult, []byte, error) {
	// Read one byte past the limit so overflow is distinguishable from a
	// result that is exactly at it.
	data, err := io.ReadAll(io.LimitReader(r, MaxResultBytes+1))
	if err != nil {
		return report.TestResult{}, nil, fmt.Errorf("failed to read result: %w", err)
	}

	if len(data) == 0 {
		return report.TestResult{}, data, fmt.Errorf("child produced no output on stdout")
	}
	if len(data) > MaxResultBytes {
		return report.TestResult{}, data[:MaxResultBytes], fmt.Errorf("child produced more than %d bytes on stdout", MaxResultBytes)
	}

	var res report.TestResult
	if err := json.Unmarshal(data, &res); err != nil {
		return report.TestResult{}, data, fmt.Errorf("child output is not a valid result: %w", err)
	}

	if res.Outcome == "" {
		return report.TestResult{}, data, fmt.Errorf("result missing required field: code")
	}
	if !res.Outcome.Valid() {
		return report.TestResult{}, data, fmt.Errorf("invalid outcome value: %q", res.Outcome)
	}

	return res, data, nil
}

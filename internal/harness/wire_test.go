package harness

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func TestInvocationRoundTrip(t *testing.T) {
	inv := report.NewInvocation("/plugins/synth.clap", "com.example.synth", "state-load-empty", 30*time.Second)

	var buf bytes.Buffer
	require.NoError(t, EncodeInvocation(&buf, inv))

	got, err := DecodeInvocation(&buf)
	require.NoError(t, err)
	assert.Equal(t, inv, got)
}

func TestEncodeInvocationRejectsIncomplete(t *testing.T) {
	base := report.NewInvocation("/p.clap", "", "scan-time", time.Second)

	tests := []struct {
		name   string
		mutate func(*report.Invocation)
	}{
		{"missing id", func(inv *report.Invocation) { inv.ID = uuid.Nil }},
		{"missing library", func(inv *report.Invocation) { inv.Library = "" }},
		{"missing test id", func(inv *report.Invocation) { inv.TestID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := base
			tt.mutate(&inv)
			assert.Error(t, EncodeInvocation(&bytes.Buffer{}, inv))
		})
	}
}

func TestDecodeInvocationStrictness(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "unknown field",
			payload: `{"id":"a257cf9a-47c9-4bf9-a48b-46ba7a4f8ab5","library":"/p.clap","test_id":"scan-time","timeout_ns":1,"surprise":true}`,
			wantErr: "failed to decode",
		},
		{
			name:    "missing id",
			payload: `{"library":"/p.clap","test_id":"scan-time","timeout_ns":1}`,
			wantErr: "missing required field: id",
		},
		{
			name:    "missing library",
			payload: `{"id":"a257cf9a-47c9-4bf9-a48b-46ba7a4f8ab5","test_id":"scan-time","timeout_ns":1}`,
			wantErr: "missing required field: library",
		},
		{
			name:    "missing test id",
			payload: `{"id":"a257cf9a-47c9-4bf9-a48b-46ba7a4f8ab5","library":"/p.clap","timeout_ns":1}`,
			wantErr: "missing required field: test_id",
		},
		{
			name:    "not json",
			payload: `hello`,
			wantErr: "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInvocation(strings.NewReader(tt.payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	inv := report.NewInvocation("/p.clap", "com.example.synth", "param-fuzz-basic", time.Minute)
	res := report.TestResult{
		Invocation:  inv,
		Description: "Fuzzes the parameters.",
		Outcome:     report.Fail,
		Message:     "output contains NaN",
		Diagnostics: map[string]string{"frame": "12"},
		Duration:    123 * time.Millisecond,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeResult(&buf, res))

	got, raw, err := DecodeResult(&buf)
	require.NoError(t, err)
	assert.Equal(t, res, got)
	assert.NotEmpty(t, raw)
}

func TestEncodeResultRejectsInvalidOutcome(t *testing.T) {
	res := report.TestResult{Outcome: report.Outcome("exploded")}
	assert.Error(t, EncodeResult(&bytes.Buffer{}, res))
}

func TestDecodeResultProtocolViolations(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "empty stdout",
			payload: "",
			wantErr: "no output",
		},
		{
			name:    "garbage",
			payload: "Segmentation fault (core dumped)",
			wantErr: "not a valid result",
		},
		{
			name:    "missing code",
			payload: `{"invocation":{"id":"a257cf9a-47c9-4bf9-a48b-46ba7a4f8ab5","library":"/p.clap","test_id":"scan-time","timeout_ns":1},"duration_ns":1}`,
			wantErr: "missing required field: code",
		},
		{
			name:    "invalid code",
			payload: `{"invocation":{"id":"a257cf9a-47c9-4bf9-a48b-46ba7a4f8ab5","library":"/p.clap","test_id":"scan-time","timeout_ns":1},"code":"exploded","duration_ns":1}`,
			wantErr: "invalid outcome value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, raw, err := DecodeResult(strings.NewReader(tt.payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.payload, string(raw))
		})
	}
}

func TestDecodeResultBoundsStdout(t *testing.T) {
	huge := bytes.Repeat([]byte{'x'}, MaxResultBytes+1)

	_, raw, err := DecodeResult(bytes.NewReader(huge))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than")
	assert.Len(t, raw, MaxResultBytes)
}

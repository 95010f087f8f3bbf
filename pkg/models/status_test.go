package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationType_String(t *testing.T) {
	tests := []struct {
		op   OperationType
		want string
	}{
		{OperationUnset, "unset"},
		{OperationSkip, "skip"},
		{OperationFetch, "fetch"},
		{OperationUpdate, "update"},
		{OperationError, "error"},
		{OperationDedup, "dedup"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOperationType_IsValid(t *testing.T) {
	assert.True(t, OperationDedup.IsValid())
	assert.False(t, OperationUnset.IsValid())
	assert.False(t, OperationType("delete").IsValid())
}

func TestLogStatus_IsValid(t *testing.T) {
	tests := []struct {
		status LogStatus
		want   bool
	}{
		{StatusSuccess, true},
		{StatusFailed, true},
		{StatusWarning, true},
		{StatusInfo, true},
		{StatusUnset, false},
		{LogStatus("pending"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "LogStatus(%q).IsValid()", string(tt.status))
	}
	assert.Equal(t, "unset", StatusUnset.String())
}

func TestParseJobType(t *testing.T) {
	assert.Equal(t, JobScheduled, ParseJobType("scheduled"))
	assert.Equal(t, JobBackfill, ParseJobType("backfill"))
	assert.Equal(t, JobManual, ParseJobType("manual"))
	assert.Equal(t, JobManual, ParseJobType(""))
	assert.Equal(t, JobManual, ParseJobType("nightly"))
}

func TestImageSource_String(t *testing.T) {
	assert.Equal(t, "none", SourceNone.String())
	assert.Equal(t, "primary", SourcePrimary.String())
}

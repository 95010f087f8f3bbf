package models

// OperationType classifies what a log entry records
type OperationType string

const (
	OperationUnset  OperationType = ""       // Zero value = unset/unknown
	OperationSkip   OperationType = "skip"   // Nothing needed or item not searchable
	OperationFetch  OperationType = "fetch"  // Providers queried, nothing persisted (failure or dry-run)
	OperationUpdate OperationType = "update" // Item updated with new image and/or description
	OperationError  OperationType = "error"  // Unexpected failure (persistence, panic, missing config)
	OperationDedup  OperationType = "dedup"  // Image matched an existing attachment and was linked
)

// String implements fmt.Stringer for logging
func (o OperationType) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsValid returns true if the operation is a known value
func (o OperationType) IsValid() bool {
	switch o {
	case OperationSkip, OperationFetch, OperationUpdate, OperationError, OperationDedup:
		return true
	}
	return false
}

// LogStatus is the outcome recorded on a log entry
type LogStatus string

const (
	StatusUnset   LogStatus = ""
	StatusSuccess LogStatus = "success"
	StatusFailed  LogStatus = "failed"
	StatusWarning LogStatus = "warning" // Partial result or skip that needs attention
	StatusInfo    LogStatus = "info"
)

// String implements fmt.Stringer for logging
func (s LogStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s LogStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusWarning, StatusInfo:
		return true
	}
	return false
}

// JobType names the entry point that started a run
type JobType string

const (
	JobScheduled JobType = "scheduled"
	JobBackfill  JobType = "backfill"
	JobManual    JobType = "manual"
)

// String implements fmt.Stringer for logging
func (j JobType) String() string {
	if j == "" {
		return "unset"
	}
	return string(j)
}

// IsValid returns true if the job type is a known value
func (j JobType) IsValid() bool {
	switch j {
	case JobScheduled, JobBackfill, JobManual:
		return true
	}
	return false
}

// ParseJobType converts user input to a JobType, defaulting to manual
func ParseJobType(s string) JobType {
	j := JobType(s)
	if j.IsValid() {
		return j
	}
	return JobManual
}

// ImageSource labels the provider an image came from
type ImageSource string

const (
	SourceNone        ImageSource = ""
	SourceMarketplace ImageSource = "marketplace"
	SourcePrimary     ImageSource = "primary"
	SourceSecondary   ImageSource = "secondary"
	SourceManual      ImageSource = "manual"
)

// String implements fmt.Stringer for logging
func (s ImageSource) String() string {
	if s == "" {
		return "none"
	}
	return string(s)
}

// RejectReason explains why a candidate image was not accepted
type RejectReason string

const (
	RejectOversize         RejectReason = "oversize"
	RejectDecodeFailure    RejectReason = "decode-failure"
	RejectBelowMinimum     RejectReason = "below-minimum-dimensions"
	RejectDisallowedFormat RejectReason = "disallowed-format"
	RejectTransport        RejectReason = "transport-error"
)

// String implements fmt.Stringer for logging
func (r RejectReason) String() string { return string(r) }

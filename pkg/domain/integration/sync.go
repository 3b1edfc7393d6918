package integration

import "time"

// ResultStatus classifies the outcome of a sync run.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
)

// IsValid returns true if the result status is valid.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultSuccess, ResultPartial, ResultError:
		return true
	}
	return false
}

// String returns the string representation of the result status.
func (s ResultStatus) String() string {
	return string(s)
}

// MaxSyncHistory is the number of sync results retained per integration.
const MaxSyncHistory = 50

// RecordError describes one record that failed during a sync run.
type RecordError struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

// SyncResult is an immutable audit record of a single sync run.
type SyncResult struct {
	ID               ID
	IntegrationID    ID
	Operation        string
	Status           ResultStatus
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsFailed    int
	Errors           []RecordError
	Duration         time.Duration
	Timestamp        time.Time
}

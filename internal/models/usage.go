package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispatch outcomes recorded in the usage ledger and metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeCanceled = "canceled"
	OutcomeInvalid  = "invalid"
)

// DispatchRecord is one row of the usage ledger. It never holds message text.
type DispatchRecord struct {
	ID             uuid.UUID `json:"id"`
	RequestID      string    `json:"request_id"`
	Subject        *string   `json:"subject"` // verified token subject, nil for anonymous calls
	Provider       string    `json:"provider"`
	Mode           string    `json:"mode"`
	Outcome        string    `json:"outcome"`
	ErrorKind      *string   `json:"error_kind"`
	UpstreamStatus *int      `json:"upstream_status"`
	Attempts       int       `json:"attempts"`
	ImageCount     int       `json:"image_count"`
	ContextTurns   int       `json:"context_turns"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

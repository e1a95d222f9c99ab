package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of a crawl run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// OutcomeStatus summarizes how one source fared in a run.
type OutcomeStatus string

const (
	// OutcomeOK means the source returned at least one field.
	OutcomeOK OutcomeStatus = "ok"
	// OutcomeEmpty means the source ran but contributed nothing, either
	// because it found nothing or because its content could not be parsed.
	OutcomeEmpty OutcomeStatus = "empty"
	// OutcomeFailed means the source failed and was treated as empty.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeSkipped means the source was not attempted.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// SourceOutcome records what one source did during a run.
type SourceOutcome struct {
	Source     Source        `json:"source"`
	Status     OutcomeStatus `json:"status"`
	Kind       string        `json:"kind,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Fields     int           `json:"fields"`
	Error      string        `json:"error,omitempty"`
}

// Run is one persisted crawl of a company.
type Run struct {
	ID             string          `json:"id"`
	CompanyName    string          `json:"company_name"`
	RegisterNumber string          `json:"register_number"`
	TaxID          string          `json:"tax_id,omitempty"`
	Status         RunStatus       `json:"status"`
	Record         json.RawMessage `json:"record,omitempty"`
	Error          string          `json:"error,omitempty"`
	Sources        []SourceOutcome `json:"sources,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

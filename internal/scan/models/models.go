// Package models holds the scan audit record and the verdict variants a scan
// can produce. Verdicts are result values, not errors: every presentation of
// a credential is recorded, whatever the outcome.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the verdict of a credential scan.
type Outcome string

const (
	OutcomeValid          Outcome = "VALID"
	OutcomeInvalidToken   Outcome = "INVALID_TOKEN"
	OutcomePermitNotFound Outcome = "PERMIT_NOT_FOUND"
	OutcomeNotApproved    Outcome = "NOT_APPROVED"
	// OutcomeExpired: scanned before the validity window opens.
	OutcomeExpired Outcome = "EXPIRED"
	// OutcomeLapsed: scanned after the validity window closed. Distinguished
	// from EXPIRED for operator clarity in the field.
	OutcomeLapsed Outcome = "LAPSED"
)

// ScanRecord is an append-only audit entry for one credential presentation.
// Never mutated or deleted.
type ScanRecord struct {
	ID uuid.UUID
	// PermitID is nil when the token did not resolve to a permit.
	PermitID       *uuid.UUID
	DocumentNumber string
	ScannedBy      string
	Location       string
	DeviceInfo     string
	Outcome        Outcome
	ScannedAt      time.Time
}

// Filter narrows a scan history query. Zero values mean "no constraint".
type Filter struct {
	From      *time.Time
	To        *time.Time
	ScannedBy string
	// Query matches as a substring across document number, scanning actor,
	// location, and the permit's vendor name.
	Query string
}

// PageRequest selects a page of results. Pages are 1-based.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize clamps page parameters to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > 200 {
		p.PerPage = 200
	}
	return p
}

// Offset returns the row offset for the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ScanPage is one page of history ordered by scan time descending, plus the
// total match count for pagination UIs.
type ScanPage struct {
	Total   int
	Records []ScanRecord
}

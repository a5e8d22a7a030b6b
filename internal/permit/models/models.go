// Package models holds the permit aggregate and its status machine. All
// transition legality checks live here so call sites never compare status
// strings ad hoc.
package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "permitgate/pkg/domain-errors"
)

// ReviewStatus is the technical-compliance gate outcome.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING_REVIEW"
	ReviewMeets    ReviewStatus = "MEETS_REQUIREMENTS"
	ReviewNotMeets ReviewStatus = "NOT_MEETS_REQUIREMENTS"
)

// ApprovalStatus is the final-authorization gate outcome. APPROVED and
// REJECTED are terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalRevision ApprovalStatus = "REVISION_REQUIRED"
)

// Actor is the identity asserted by the auth collaborator for a decision.
type Actor struct {
	ID   string
	Name string
}

// Permit is the work-authorization record. Descriptive fields are an opaque
// payload to the state machine; only the status, numbering, and token fields
// are interpreted here.
type Permit struct {
	ID uuid.UUID

	VendorName     string
	OfficerName    string
	JobDescription string
	WorkLocation   string
	WorkingHours   string

	// Validity window, set at submission and bound into the verification
	// token on approval.
	ValidFrom time.Time
	ValidTo   time.Time

	ReviewStatus    ReviewStatus
	ReviewedBy      *string
	ReviewedAt      *time.Time
	NoteForApprover string

	ApprovalStatus ApprovalStatus
	ApprovedBy     *string
	ApprovedAt     *time.Time
	NoteForVendor  string

	// Assigned only on approval, always together.
	DocumentNumber    *string
	DocumentDate      *time.Time
	VerificationToken *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPermit builds a freshly submitted permit in its initial state.
func NewPermit(vendorName, officerName, jobDescription, workLocation, workingHours string, validFrom, validTo time.Time) *Permit {
	now := time.Now()
	return &Permit{
		ID:             uuid.New(),
		VendorName:     vendorName,
		OfficerName:    officerName,
		JobDescription: jobDescription,
		WorkLocation:   workLocation,
		WorkingHours:   workingHours,
		ValidFrom:      validFrom,
		ValidTo:        validTo,
		ReviewStatus:   ReviewPending,
		ApprovalStatus: ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the approval decision can never change again.
func (p *Permit) IsTerminal() bool {
	return p.ApprovalStatus == ApprovalApproved || p.ApprovalStatus == ApprovalRejected
}

// CanDecideReview checks the review-gate precondition. The review decision is
// made exactly once; re-review requires an explicit external reopen.
func (p *Permit) CanDecideReview() error {
	if p.ReviewStatus != ReviewPending {
		return dErrors.New(dErrors.CodeInvalidTransition, "permit has already been reviewed")
	}
	return nil
}

// CanDecideApproval checks the approval-gate preconditions. A failed review
// (NOT_MEETS_REQUIREMENTS) does not block final approval; the approver sees
// the reviewer's note and decides.
func (p *Permit) CanDecideApproval() error {
	if p.ReviewStatus == ReviewPending {
		return dErrors.New(dErrors.CodeNotReviewed, "permit has not been reviewed yet")
	}
	if p.ApprovalStatus != ApprovalPending {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "approval decision has already been made")
	}
	return nil
}

// ValidReviewOutcome reports whether s is a status a reviewer may set.
func ValidReviewOutcome(s ReviewStatus) bool {
	return s == ReviewMeets || s == ReviewNotMeets
}

// ValidApprovalOutcome reports whether s is a status an approver may set.
func ValidApprovalOutcome(s ApprovalStatus) bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

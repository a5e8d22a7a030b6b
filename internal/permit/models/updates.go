package models

import "time"

// ReviewUpdate carries the fields a reviewer decision writes.
type ReviewUpdate struct {
	Status          ReviewStatus
	ReviewedBy      string
	ReviewedAt      time.Time
	NoteForApprover string
}

// ApprovalUpdate carries the fields an approval decision writes. The number,
// date, and token pointers are set together on APPROVE and all nil on REJECT;
// stores persist the whole update atomically.
type ApprovalUpdate struct {
	Status            ApprovalStatus
	ApprovedBy        string
	ApprovedAt        time.Time
	NoteForVendor     string
	DocumentNumber    *string
	DocumentDate      *time.Time
	VerificationToken *string
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"permitgate/internal/permit/models"
	"permitgate/pkg/platform/sentinel"
	txcontext "permitgate/pkg/platform/tx"
)

// PostgresStore persists permits in PostgreSQL. Status-gated updates carry
// their precondition in the WHERE clause so a concurrent decision loses
// cleanly instead of double-applying.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, permit *models.Permit) error {
	query := `
		INSERT INTO permits (
			id, vendor_name, officer_name, job_description, work_location,
			working_hours, valid_from, valid_to, review_status, approval_status,
			note_for_approver, note_for_vendor, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		permit.ID, permit.VendorName, permit.OfficerName, permit.JobDescription,
		permit.WorkLocation, permit.WorkingHours, permit.ValidFrom, permit.ValidTo,
		permit.ReviewStatus, permit.ApprovalStatus,
		permit.NoteForApprover, permit.NoteForVendor,
		permit.CreatedAt, permit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert permit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Permit, error) {
	query := `
		SELECT id, vendor_name, officer_name, job_description, work_location,
		       working_hours, valid_from, valid_to,
		       review_status, reviewed_by, reviewed_at, note_for_approver,
		       approval_status, approved_by, approved_at, note_for_vendor,
		       document_number, document_date, verification_token,
		       created_at, updated_at
		FROM permits
		WHERE id = $1
	`
	var p models.Permit
	var noteForApprover, noteForVendor sql.NullString
	err := s.execer(ctx).QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.VendorName, &p.OfficerName, &p.JobDescription, &p.WorkLocation,
		&p.WorkingHours, &p.ValidFrom, &p.ValidTo,
		&p.ReviewStatus, &p.ReviewedBy, &p.ReviewedAt, &noteForApprover,
		&p.ApprovalStatus, &p.ApprovedBy, &p.ApprovedAt, &noteForVendor,
		&p.DocumentNumber, &p.DocumentDate, &p.VerificationToken,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find permit by id: %w", err)
	}
	p.NoteForApprover = noteForApprover.String
	p.NoteForVendor = noteForVendor.String
	return &p, nil
}

// ApplyReview persists a review decision. The guard on review_status makes
// the decision exactly-once: a second reviewer observes ErrInvalidState.
func (s *PostgresStore) ApplyReview(ctx context.Context, id uuid.UUID, update models.ReviewUpdate) error {
	query := `
		UPDATE permits
		SET review_status = $2, reviewed_by = $3, reviewed_at = $4,
		    note_for_approver = $5, updated_at = now()
		WHERE id = $1 AND review_status = $6
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		id, update.Status, update.ReviewedBy, update.ReviewedAt,
		update.NoteForApprover, models.ReviewPending,
	)
	if err != nil {
		return fmt.Errorf("apply review: %w", err)
	}
	return s.checkGuarded(ctx, id, res)
}

// ApplyApproval persists an approval decision, including the document number
// and verification token on APPROVE, as one statement. The guard on
// approval_status enforces terminal immutability under concurrent deciders.
func (s *PostgresStore) ApplyApproval(ctx context.Context, id uuid.UUID, update models.ApprovalUpdate) error {
	query := `
		UPDATE permits
		SET approval_status = $2, approved_by = $3, approved_at = $4,
		    note_for_vendor = $5, document_number = $6, document_date = $7,
		    verification_token = $8, updated_at = now()
		WHERE id = $1 AND approval_status = $9
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		id, update.Status, update.ApprovedBy, update.ApprovedAt,
		update.NoteForVendor, update.DocumentNumber, update.DocumentDate,
		update.VerificationToken, models.ApprovalPending,
	)
	if err != nil {
		// 23505 fires when the supplied document number collides with one
		// already issued; the unique index is the last line of defense.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("document number taken: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("apply approval: %w", err)
	}
	return s.checkGuarded(ctx, id, res)
}

// checkGuarded distinguishes "row missing" from "precondition failed" when a
// guarded update touched nothing.
func (s *PostgresStore) checkGuarded(ctx context.Context, id uuid.UUID, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	err = s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM permits WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check permit existence: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

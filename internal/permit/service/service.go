// Package service owns the permit lifecycle state machine: review and
// approval decisions, document numbering, and credential issuance. All
// transition legality is checked here and enforced again by status guards in
// the store, so no interleaving of concurrent deciders can double-apply.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"permitgate/internal/notify"
	"permitgate/internal/permit/models"
	"permitgate/internal/platform/metrics"
	"permitgate/internal/sequence"
	dErrors "permitgate/pkg/domain-errors"
	"permitgate/pkg/platform/sentinel"
)

// Store is the permit persistence contract. Mutations are status-guarded:
// they return sentinel.ErrInvalidState when the precondition row state is
// gone, which the service translates into the matching domain error.
type Store interface {
	Create(ctx context.Context, permit *models.Permit) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Permit, error)
	ApplyReview(ctx context.Context, id uuid.UUID, update models.ReviewUpdate) error
	ApplyApproval(ctx context.Context, id uuid.UUID, update models.ApprovalUpdate) error
}

// TxRunner runs fn atomically. Everything fn touches through
// context-transaction-aware stores commits or rolls back together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Allocator mints the next document number for a period.
type Allocator interface {
	Allocate(ctx context.Context, p sequence.Period) (string, error)
}

// TokenSigner mints the verification credential bound to a permit.
type TokenSigner interface {
	Sign(permitID uuid.UUID, validFrom, validTo time.Time) (string, error)
}

// Service coordinates permit transitions.
type Service struct {
	store      Store
	txr        TxRunner
	allocator  Allocator
	signer     TokenSigner
	emitter    *notify.Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	txAttempts int
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the time source for testability.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithApprovalAttempts bounds how many times an approval transaction is
// rerun when the document counter is contended.
func WithApprovalAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.txAttempts = n
		}
	}
}

func New(store Store, txr TxRunner, allocator Allocator, signer TokenSigner, emitter *notify.Emitter, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		txr:        txr,
		allocator:  allocator,
		signer:     signer,
		emitter:    emitter,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("permitgate/permit"),
		now:        time.Now,
		txAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput is the vendor-supplied payload for a new permit.
type SubmitInput struct {
	VendorName     string
	OfficerName    string
	JobDescription string
	WorkLocation   string
	WorkingHours   string
	ValidFrom      time.Time
	ValidTo        time.Time
}

// Submit creates a permit in its initial (PENDING_REVIEW, PENDING_APPROVAL)
// state.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.Permit, error) {
	if in.VendorName == "" || in.JobDescription == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "vendor name and job description are required")
	}
	if in.ValidFrom.IsZero() || in.ValidTo.IsZero() || in.ValidTo.Before(in.ValidFrom) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "validity window is invalid")
	}

	permit := models.NewPermit(in.VendorName, in.OfficerName, in.JobDescription, in.WorkLocation, in.WorkingHours, in.ValidFrom, in.ValidTo)
	if err := s.store.Create(ctx, permit); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PermitsSubmitted.Inc()
	}
	s.emitter.Emit(notify.Event{
		Type:      notify.EventPermitSubmitted,
		PermitID:  permit.ID,
		NewStatus: string(models.ReviewPending),
	})
	return permit, nil
}

// Get loads a permit by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Permit, error) {
	permit, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "permit not found")
		}
		return nil, err
	}
	return permit, nil
}

// DecideReview applies the reviewer's technical-compliance decision. The
// decision is made exactly once: a second call fails with
// CodeInvalidTransition and leaves the permit untouched.
func (s *Service) DecideReview(ctx context.Context, id uuid.UUID, actor models.Actor, outcome models.ReviewStatus, note string) (*models.Permit, error) {
	ctx, span := s.tracer.Start(ctx, "permit.DecideReview",
		trace.WithAttributes(attribute.String("permit.id", id.String())))
	defer span.End()

	if !models.ValidReviewOutcome(outcome) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid review outcome")
	}

	start := s.now()
	var updated *models.Permit
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		permit, err := s.store.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "permit not found")
			}
			return err
		}
		if err := permit.CanDecideReview(); err != nil {
			return err
		}

		update := models.ReviewUpdate{
			Status:          outcome,
			ReviewedBy:      actor.ID,
			ReviewedAt:      s.now(),
			NoteForApprover: note,
		}
		if err := s.store.ApplyReview(ctx, id, update); err != nil {
			return s.translateGuard(err)
		}

		updated, err = s.store.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(start)
	if s.metrics != nil {
		s.metrics.ReviewDecisions.WithLabelValues(string(outcome)).Inc()
	}
	s.emitter.Emit(notify.Event{
		Type:      notify.EventReviewDecided,
		PermitID:  id,
		NewStatus: string(outcome),
		ActorID:   actor.ID,
		ActorName: actor.Name,
	})
	return updated, nil
}

// ApprovalInput carries the approver's decision. DocumentNumber and
// DocumentDate may be supplied explicitly; otherwise the allocator mints the
// number for the period of the approval date.
type ApprovalInput struct {
	Outcome        models.ApprovalStatus
	Note           string
	DocumentNumber string
	DocumentDate   *time.Time
}

// DecideApproval applies the final authorization decision. On APPROVE the
// document number allocation, credential signing, and status update commit as
// one transaction: a half-applied approval is never visible, and a cancelled
// request rolls the allocated number back with it. A contended counter aborts
// the transaction, so the whole transaction is rerun on a fresh connection
// until the attempt budget runs out.
func (s *Service) DecideApproval(ctx context.Context, id uuid.UUID, actor models.Actor, in ApprovalInput) (*models.Permit, error) {
	ctx, span := s.tracer.Start(ctx, "permit.DecideApproval",
		trace.WithAttributes(attribute.String("permit.id", id.String())))
	defer span.End()

	if !models.ValidApprovalOutcome(in.Outcome) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid approval outcome")
	}

	start := s.now()
	var updated *models.Permit
	err := s.approveInTx(ctx, id, actor, in, &updated)
	for attempt := 1; attempt < s.txAttempts && dErrors.Is(err, dErrors.CodeAllocationContention); attempt++ {
		if s.metrics != nil {
			s.metrics.AllocationRetries.Inc()
		}
		err = s.approveInTx(ctx, id, actor, in, &updated)
	}
	if err != nil {
		return nil, err
	}

	s.recordTransition(start)
	if s.metrics != nil {
		s.metrics.ApprovalDecisions.WithLabelValues(string(in.Outcome)).Inc()
	}
	s.emitter.Emit(notify.Event{
		Type:      notify.EventApprovalDecided,
		PermitID:  id,
		NewStatus: string(in.Outcome),
		ActorID:   actor.ID,
		ActorName: actor.Name,
	})
	return updated, nil
}

func (s *Service) approveInTx(ctx context.Context, id uuid.UUID, actor models.Actor, in ApprovalInput, updated **models.Permit) error {
	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		permit, err := s.store.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "permit not found")
			}
			return err
		}
		if err := permit.CanDecideApproval(); err != nil {
			return err
		}

		update := models.ApprovalUpdate{
			Status:        in.Outcome,
			ApprovedBy:    actor.ID,
			ApprovedAt:    s.now(),
			NoteForVendor: in.Note,
		}

		if in.Outcome == models.ApprovalApproved {
			docDate := s.now()
			if in.DocumentDate != nil {
				docDate = *in.DocumentDate
			}
			number := in.DocumentNumber
			if number == "" {
				number, err = s.allocator.Allocate(ctx, sequence.PeriodOf(docDate))
				if err != nil {
					return err
				}
			}
			signed, err := s.signer.Sign(permit.ID, permit.ValidFrom, permit.ValidTo)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "sign verification token")
			}
			update.DocumentNumber = &number
			update.DocumentDate = &docDate
			update.VerificationToken = &signed
		}

		if err := s.store.ApplyApproval(ctx, id, update); err != nil {
			return s.translateApprovalGuard(err)
		}

		*updated, err = s.store.FindByID(ctx, id)
		return err
	})
}

func (s *Service) translateGuard(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "permit not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, "permit has already been reviewed")
	default:
		return err
	}
}

func (s *Service) translateApprovalGuard(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "permit not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeAlreadyFinalized, "approval decision has already been made")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeDuplicateNumber, "document number already in use")
	default:
		return err
	}
}

func (s *Service) recordTransition(start time.Time) {
	if s.metrics != nil {
		s.metrics.TransitionLatency.Observe(s.now().Sub(start).Seconds())
	}
}

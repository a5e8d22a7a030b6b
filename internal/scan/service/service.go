// Package service validates presented credentials and records every attempt.
// Scanning is an audited action, not merely a read: exactly one ScanRecord is
// appended per call whatever the verdict, and the permit itself is never
// mutated, so repeated legitimate checks at different checkpoints all record
// and all return VALID.
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

	permitmodels "permitgate/internal/permit/models"
	"permitgate/internal/platform/metrics"
	"permitgate/internal/scan/models"
	"permitgate/internal/token"
	"permitgate/pkg/platform/sentinel"
)

// TokenVerifier checks credential authenticity offline.
type TokenVerifier interface {
	Verify(tokenString string) (token.Payload, error)
}

// PermitReader loads current permit state for the freshness cross-check.
type PermitReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*permitmodels.Permit, error)
}

// Store appends audit records and serves history queries.
type Store interface {
	Append(ctx context.Context, record models.ScanRecord) error
	List(ctx context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error)
}

// Service is the verification/scan recorder.
type Service struct {
	verifier TokenVerifier
	permits  PermitReader
	store    Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
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

func New(verifier TokenVerifier, permits PermitReader, store Store, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		permits:  permits,
		store:    store,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("permitgate/scan"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Input is one credential presentation.
type Input struct {
	Token      string
	Actor      permitmodels.Actor
	Location   string
	DeviceInfo string
}

// PermitSummary is the subset rendered to the field operator alongside the
// verdict.
type PermitSummary struct {
	PermitID       uuid.UUID
	DocumentNumber string
	VendorName     string
	JobDescription string
	ValidFrom      time.Time
	ValidTo        time.Time
}

// Result is the verdict plus context for a human-readable rendering.
type Result struct {
	Outcome models.Outcome
	Permit  *PermitSummary
}

// Scan validates a presented credential against its signature, current permit
// state, and the validity window, then appends the audit record. The append
// is unconditional; if it fails the whole scan fails, because an unaudited
// verification must not report a verdict.
func (s *Service) Scan(ctx context.Context, in Input) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "scan.Scan")
	defer span.End()

	outcome, permitID, permit, err := s.evaluate(ctx, in.Token)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("scan.outcome", string(outcome)))

	record := models.ScanRecord{
		ID:         uuid.New(),
		PermitID:   permitID,
		ScannedBy:  in.Actor.ID,
		Location:   in.Location,
		DeviceInfo: in.DeviceInfo,
		Outcome:    outcome,
		ScannedAt:  s.now(),
	}
	if permit != nil && permit.DocumentNumber != nil {
		record.DocumentNumber = *permit.DocumentNumber
	}
	if err := s.store.Append(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to append scan record",
			"outcome", outcome,
			"error", err,
		)
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.Scans.WithLabelValues(string(outcome)).Inc()
	}

	result := Result{Outcome: outcome}
	if permit != nil {
		result.Permit = &PermitSummary{
			PermitID:       permit.ID,
			DocumentNumber: record.DocumentNumber,
			VendorName:     permit.VendorName,
			JobDescription: permit.JobDescription,
			ValidFrom:      permit.ValidFrom,
			ValidTo:        permit.ValidTo,
		}
	}
	return result, nil
}

// evaluate computes the verdict. Authenticity first (offline), then permit
// state freshness, then the validity window against the current date.
func (s *Service) evaluate(ctx context.Context, tokenString string) (models.Outcome, *uuid.UUID, *permitmodels.Permit, error) {
	payload, err := s.verifier.Verify(tokenString)
	if err != nil {
		return models.OutcomeInvalidToken, nil, nil, nil
	}
	permitID := payload.PermitID

	permit, err := s.permits.FindByID(ctx, permitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.OutcomePermitNotFound, &permitID, nil, nil
		}
		return "", nil, nil, err
	}

	if permit.ApprovalStatus != permitmodels.ApprovalApproved {
		return models.OutcomeNotApproved, &permitID, permit, nil
	}

	today := dateOnly(s.now())
	switch {
	case today.Before(dateOnly(permit.ValidFrom)):
		return models.OutcomeExpired, &permitID, permit, nil
	case today.After(dateOnly(permit.ValidTo)):
		return models.OutcomeLapsed, &permitID, permit, nil
	default:
		return models.OutcomeValid, &permitID, permit, nil
	}
}

// dateOnly truncates to calendar date; the validity window is day-granular
// and inclusive of both endpoints.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// History serves the filtered, paginated audit read path. Read-only.
func (s *Service) History(ctx context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error) {
	return s.store.List(ctx, filter, page)
}

// Package handler exposes the permit lifecycle over HTTP. Thin layer: decode,
// delegate to the service, translate errors. Role gating happens in the
// middleware chain; the asserted actor is read from context.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"permitgate/internal/permit/models"
	"permitgate/internal/permit/service"
	"permitgate/internal/platform/middleware"
	"permitgate/internal/transport/http/shared"
	dErrors "permitgate/pkg/domain-errors"
)

// Service defines the permit operations the handler delegates to.
type Service interface {
	Submit(ctx context.Context, in service.SubmitInput) (*models.Permit, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Permit, error)
	DecideReview(ctx context.Context, id uuid.UUID, actor models.Actor, outcome models.ReviewStatus, note string) (*models.Permit, error)
	DecideApproval(ctx context.Context, id uuid.UUID, actor models.Actor, in service.ApprovalInput) (*models.Permit, error)
}

// Handler handles permit endpoints.
type Handler struct {
	permits   Service
	logger    *slog.Logger
	validator middleware.ActorValidator
}

func New(permits Service, logger *slog.Logger, validator middleware.ActorValidator) *Handler {
	return &Handler{permits: permits, logger: logger, validator: validator}
}

// Register mounts the permit routes with per-route role gates.
func (h *Handler) Register(r chi.Router) {
	r.With(middleware.RequireRole(h.validator, h.logger, middleware.RoleVendor)).
		Post("/permits", h.handleSubmit)
	r.With(middleware.RequireRole(h.validator, h.logger)).
		Get("/permits/{id}", h.handleGet)
	r.With(middleware.RequireRole(h.validator, h.logger, middleware.RoleReviewer)).
		Post("/permits/{id}/review", h.handleReview)
	r.With(middleware.RequireRole(h.validator, h.logger, middleware.RoleApprover)).
		Post("/permits/{id}/approval", h.handleApproval)
}

const dateLayout = "2006-01-02"

type submitRequest struct {
	VendorName     string `json:"vendor_name"`
	OfficerName    string `json:"officer_name"`
	JobDescription string `json:"job_description"`
	WorkLocation   string `json:"work_location"`
	WorkingHours   string `json:"working_hours"`
	ValidFrom      string `json:"valid_from"`
	ValidTo        string `json:"valid_to"`
}

type reviewRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

type approvalRequest struct {
	Outcome        string `json:"outcome"`
	Note           string `json:"note"`
	DocumentNumber string `json:"document_number,omitempty"`
	DocumentDate   string `json:"document_date,omitempty"`
}

type permitResponse struct {
	ID                string  `json:"id"`
	VendorName        string  `json:"vendor_name"`
	OfficerName       string  `json:"officer_name"`
	JobDescription    string  `json:"job_description"`
	WorkLocation      string  `json:"work_location"`
	WorkingHours      string  `json:"working_hours"`
	ValidFrom         string  `json:"valid_from"`
	ValidTo           string  `json:"valid_to"`
	ReviewStatus      string  `json:"review_status"`
	ReviewedBy        *string `json:"reviewed_by,omitempty"`
	NoteForApprover   string  `json:"note_for_approver,omitempty"`
	ApprovalStatus    string  `json:"approval_status"`
	ApprovedBy        *string `json:"approved_by,omitempty"`
	NoteForVendor     string  `json:"note_for_vendor,omitempty"`
	DocumentNumber    *string `json:"document_number,omitempty"`
	DocumentDate      *string `json:"document_date,omitempty"`
	VerificationToken *string `json:"verification_token,omitempty"`
}

func toPermitResponse(p *models.Permit) permitResponse {
	resp := permitResponse{
		ID:              p.ID.String(),
		VendorName:      p.VendorName,
		OfficerName:     p.OfficerName,
		JobDescription:  p.JobDescription,
		WorkLocation:    p.WorkLocation,
		WorkingHours:    p.WorkingHours,
		ValidFrom:       p.ValidFrom.Format(dateLayout),
		ValidTo:         p.ValidTo.Format(dateLayout),
		ReviewStatus:    string(p.ReviewStatus),
		ReviewedBy:      p.ReviewedBy,
		NoteForApprover: p.NoteForApprover,
		ApprovalStatus:  string(p.ApprovalStatus),
		ApprovedBy:      p.ApprovedBy,
		NoteForVendor:   p.NoteForVendor,
		DocumentNumber:  p.DocumentNumber,
	}
	if p.DocumentDate != nil {
		d := p.DocumentDate.Format(dateLayout)
		resp.DocumentDate = &d
	}
	resp.VerificationToken = p.VerificationToken
	return resp
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	validFrom, err := time.Parse(dateLayout, req.ValidFrom)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "valid_from must be YYYY-MM-DD"))
		return
	}
	validTo, err := time.Parse(dateLayout, req.ValidTo)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "valid_to must be YYYY-MM-DD"))
		return
	}

	permit, err := h.permits.Submit(ctx, service.SubmitInput{
		VendorName:     req.VendorName,
		OfficerName:    req.OfficerName,
		JobDescription: req.JobDescription,
		WorkLocation:   req.WorkLocation,
		WorkingHours:   req.WorkingHours,
		ValidFrom:      validFrom,
		ValidTo:        validTo,
	})
	if err != nil {
		h.logError(ctx, "submit permit failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toPermitResponse(permit))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid permit id"))
		return
	}
	permit, err := h.permits.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPermitResponse(permit))
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid permit id"))
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	actor := actorFromContext(ctx)

	permit, err := h.permits.DecideReview(ctx, id, actor, models.ReviewStatus(req.Outcome), req.Note)
	if err != nil {
		h.logError(ctx, "review decision failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPermitResponse(permit))
}

func (h *Handler) handleApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid permit id"))
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	in := service.ApprovalInput{
		Outcome:        models.ApprovalStatus(req.Outcome),
		Note:           req.Note,
		DocumentNumber: req.DocumentNumber,
	}
	if req.DocumentDate != "" {
		docDate, err := time.Parse(dateLayout, req.DocumentDate)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "document_date must be YYYY-MM-DD"))
			return
		}
		in.DocumentDate = &docDate
	}
	actor := actorFromContext(ctx)

	permit, err := h.permits.DecideApproval(ctx, id, actor, in)
	if err != nil {
		h.logError(ctx, "approval decision failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPermitResponse(permit))
}

func actorFromContext(ctx context.Context) models.Actor {
	claims, _ := middleware.GetActor(ctx)
	return models.Actor{ID: claims.ActorID, Name: claims.ActorName}
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"request_id", middleware.GetRequestID(ctx),
	)
}

// Package handler exposes credential scanning and the audit read path. The
// scanner's User-Agent is parsed into the audit record so field-device fleets
// can be traced through the history.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	permitmodels "permitgate/internal/permit/models"
	"permitgate/internal/platform/middleware"
	"permitgate/internal/scan/models"
	"permitgate/internal/scan/service"
	"permitgate/internal/transport/http/shared"
	dErrors "permitgate/pkg/domain-errors"
)

// Service defines the scan operations the handler delegates to.
type Service interface {
	Scan(ctx context.Context, in service.Input) (service.Result, error)
	History(ctx context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error)
}

// Handler handles scan endpoints.
type Handler struct {
	scans     Service
	logger    *slog.Logger
	validator middleware.ActorValidator
	// rateLimit wraps the scan route when configured; nil disables it.
	rateLimit func(http.Handler) http.Handler
}

func New(scans Service, logger *slog.Logger, validator middleware.ActorValidator, rateLimit func(http.Handler) http.Handler) *Handler {
	return &Handler{scans: scans, logger: logger, validator: validator, rateLimit: rateLimit}
}

// Register mounts the scan routes.
func (h *Handler) Register(r chi.Router) {
	scanChain := r.With(middleware.RequireRole(h.validator, h.logger, middleware.RoleVerifier))
	if h.rateLimit != nil {
		scanChain = scanChain.With(h.rateLimit)
	}
	scanChain.Post("/scan", h.handleScan)

	r.With(middleware.RequireRole(h.validator, h.logger, middleware.RoleReviewer, middleware.RoleApprover)).
		Get("/scans", h.handleHistory)
}

type scanRequest struct {
	Token    string `json:"token"`
	Location string `json:"location"`
}

type permitSummaryResponse struct {
	PermitID       string `json:"permit_id"`
	DocumentNumber string `json:"document_number,omitempty"`
	VendorName     string `json:"vendor_name"`
	JobDescription string `json:"job_description"`
	ValidFrom      string `json:"valid_from"`
	ValidTo        string `json:"valid_to"`
}

type scanResponse struct {
	Outcome string                 `json:"outcome"`
	Permit  *permitSummaryResponse `json:"permit,omitempty"`
}

const dateLayout = "2006-01-02"

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Token == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}
	claims, _ := middleware.GetActor(ctx)

	result, err := h.scans.Scan(ctx, service.Input{
		Token:      req.Token,
		Actor:      permitmodels.Actor{ID: claims.ActorID, Name: claims.ActorName},
		Location:   req.Location,
		DeviceInfo: deviceInfo(r.UserAgent()),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "scan failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}

	resp := scanResponse{Outcome: string(result.Outcome)}
	if result.Permit != nil {
		resp.Permit = &permitSummaryResponse{
			PermitID:       result.Permit.PermitID.String(),
			DocumentNumber: result.Permit.DocumentNumber,
			VendorName:     result.Permit.VendorName,
			JobDescription: result.Permit.JobDescription,
			ValidFrom:      result.Permit.ValidFrom.Format(dateLayout),
			ValidTo:        result.Permit.ValidTo.Format(dateLayout),
		}
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

// deviceInfo condenses the scanner's User-Agent into a short readable tag.
func deviceInfo(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if name == "" {
		return ua
	}
	info := name + " " + version
	if os := parsed.OS(); os != "" {
		info += " (" + os + ")"
	}
	return info
}

type scanRecordResponse struct {
	ID             string  `json:"id"`
	PermitID       *string `json:"permit_id,omitempty"`
	DocumentNumber string  `json:"document_number,omitempty"`
	ScannedBy      string  `json:"scanned_by"`
	Location       string  `json:"location"`
	DeviceInfo     string  `json:"device_info,omitempty"`
	Outcome        string  `json:"outcome"`
	ScannedAt      string  `json:"scanned_at"`
}

type historyResponse struct {
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
	Records []scanRecordResponse `json:"records"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter models.Filter
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be RFC3339"))
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be RFC3339"))
			return
		}
		filter.To = &t
	}
	filter.ScannedBy = q.Get("scanned_by")
	filter.Query = q.Get("q")

	page := models.PageRequest{
		Page:    atoiOr(q.Get("page"), 1),
		PerPage: atoiOr(q.Get("per_page"), 20),
	}.Normalize()

	result, err := h.scans.History(r.Context(), filter, page)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "scan history query failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		shared.WriteError(w, err)
		return
	}

	resp := historyResponse{
		Total:   result.Total,
		Page:    page.Page,
		PerPage: page.PerPage,
		Records: make([]scanRecordResponse, 0, len(result.Records)),
	}
	for _, rec := range result.Records {
		item := scanRecordResponse{
			ID:             rec.ID.String(),
			DocumentNumber: rec.DocumentNumber,
			ScannedBy:      rec.ScannedBy,
			Location:       rec.Location,
			DeviceInfo:     rec.DeviceInfo,
			Outcome:        string(rec.Outcome),
			ScannedAt:      rec.ScannedAt.Format(time.RFC3339),
		}
		if rec.PermitID != nil {
			id := rec.PermitID.String()
			item.PermitID = &id
		}
		resp.Records = append(resp.Records, item)
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

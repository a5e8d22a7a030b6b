package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	permitmodels "permitgate/internal/permit/models"
	"permitgate/internal/platform/middleware"
	"permitgate/internal/scan/handler/mocks"
	"permitgate/internal/scan/models"
	"permitgate/internal/scan/service"
)

const (
	verifierToken = "verifier-token"
	reviewerToken = "reviewer-token"
)

type tokenValidator map[string]middleware.ActorClaims

func (v tokenValidator) ValidateActorToken(tokenString string) (*middleware.ActorClaims, error) {
	claims, ok := v[tokenString]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &claims, nil
}

type ScanHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	scans   *mocks.MockService
	router  http.Handler
	limited bool
}

func TestScanHandlerSuite(t *testing.T) {
	suite.Run(t, new(ScanHandlerSuite))
}

func (s *ScanHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.scans = mocks.NewMockService(s.ctrl)
	s.limited = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := tokenValidator{
		verifierToken: {ActorID: "ver-1", ActorName: "V. Verifier", Role: middleware.RoleVerifier},
		reviewerToken: {ActorID: "rev-1", ActorName: "R. Reviewer", Role: middleware.RoleReviewer},
	}
	rateLimit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limited {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	h := New(s.scans, logger, validator, rateLimit)
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *ScanHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ScanHandlerSuite) postScan(bearer, body, userAgent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ScanHandlerSuite) TestScanRequiresVerifierRole() {
	rec := s.postScan("", `{"token":"x"}`, "")
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.postScan(reviewerToken, `{"token":"x"}`, "")
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *ScanHandlerSuite) TestScanPassesActorAndDevice() {
	permitID := uuid.New()
	s.scans.EXPECT().
		Scan(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in service.Input) (service.Result, error) {
			s.Equal("credential-token", in.Token)
			s.Equal(permitmodels.Actor{ID: "ver-1", Name: "V. Verifier"}, in.Actor)
			s.Equal("gate 2", in.Location)
			s.Contains(in.DeviceInfo, "Firefox")
			return service.Result{
				Outcome: models.OutcomeValid,
				Permit: &service.PermitSummary{
					PermitID:       permitID,
					DocumentNumber: "7/01/2025",
					VendorName:     "PT Vendor",
					JobDescription: "cable maintenance",
					ValidFrom:      time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC),
					ValidTo:        time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
				},
			}, nil
		})

	rec := s.postScan(verifierToken, `{"token":"credential-token","location":"gate 2"}`,
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Outcome string `json:"outcome"`
		Permit  *struct {
			PermitID       string `json:"permit_id"`
			DocumentNumber string `json:"document_number"`
			ValidFrom      string `json:"valid_from"`
			ValidTo        string `json:"valid_to"`
		} `json:"permit"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal("VALID", resp.Outcome)
	s.Require().NotNil(resp.Permit)
	s.Equal(permitID.String(), resp.Permit.PermitID)
	s.Equal("7/01/2025", resp.Permit.DocumentNumber)
	s.Equal("2025-01-10", resp.Permit.ValidFrom)
	s.Equal("2025-01-20", resp.Permit.ValidTo)
}

func (s *ScanHandlerSuite) TestScanNegativeVerdictHasNoPermit() {
	s.scans.EXPECT().
		Scan(gomock.Any(), gomock.Any()).
		Return(service.Result{Outcome: models.OutcomeInvalidToken}, nil)

	rec := s.postScan(verifierToken, `{"token":"garbage"}`, "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"outcome":"INVALID_TOKEN"}`, rec.Body.String())
}

func (s *ScanHandlerSuite) TestScanEmptyTokenRejected() {
	rec := s.postScan(verifierToken, `{"token":""}`, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ScanHandlerSuite) TestScanRateLimited() {
	s.limited = true
	rec := s.postScan(verifierToken, `{"token":"x"}`, "")
	s.Equal(http.StatusTooManyRequests, rec.Code)
}

func (s *ScanHandlerSuite) TestHistoryQueryParams() {
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	s.scans.EXPECT().
		History(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error) {
			s.Require().NotNil(filter.From)
			s.True(filter.From.Equal(from))
			s.Nil(filter.To)
			s.Equal("ver-1", filter.ScannedBy)
			s.Equal("maju", filter.Query)
			s.Equal(2, page.Page)
			s.Equal(10, page.PerPage)
			return models.ScanPage{Total: 11}, nil
		})

	req := httptest.NewRequest(http.MethodGet,
		"/scans?from=2025-03-01T00:00:00Z&scanned_by=ver-1&q=maju&page=2&per_page=10", nil)
	req.Header.Set("Authorization", "Bearer "+reviewerToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Total   int `json:"total"`
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(11, resp.Total)
	s.Equal(2, resp.Page)
	s.Equal(10, resp.PerPage)
}

func (s *ScanHandlerSuite) TestHistoryRejectsVerifier() {
	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req.Header.Set("Authorization", "Bearer "+verifierToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *ScanHandlerSuite) TestHistoryMalformedFrom() {
	req := httptest.NewRequest(http.MethodGet, "/scans?from=yesterday", nil)
	req.Header.Set("Authorization", "Bearer "+reviewerToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

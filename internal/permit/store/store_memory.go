package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"permitgate/internal/permit/models"
	"permitgate/pkg/platform/sentinel"
)

// MemoryStore is an in-memory permit store for tests. It applies the same
// status guards as the postgres store so unit tests exercise identical
// semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	permits map[uuid.UUID]*models.Permit
}

func NewMemory() *MemoryStore {
	return &MemoryStore{permits: make(map[uuid.UUID]*models.Permit)}
}

func (s *MemoryStore) Create(_ context.Context, permit *models.Permit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *permit
	s.permits[permit.ID] = &cp
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Permit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permits[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ApplyReview(_ context.Context, id uuid.UUID, update models.ReviewUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if p.ReviewStatus != models.ReviewPending {
		return sentinel.ErrInvalidState
	}
	reviewedBy := update.ReviewedBy
	reviewedAt := update.ReviewedAt
	p.ReviewStatus = update.Status
	p.ReviewedBy = &reviewedBy
	p.ReviewedAt = &reviewedAt
	p.NoteForApprover = update.NoteForApprover
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ApplyApproval(_ context.Context, id uuid.UUID, update models.ApprovalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if p.ApprovalStatus != models.ApprovalPending {
		return sentinel.ErrInvalidState
	}
	// Mirrors the partial unique index on document_number.
	if update.DocumentNumber != nil {
		for _, other := range s.permits {
			if other.ID != id && other.DocumentNumber != nil && *other.DocumentNumber == *update.DocumentNumber {
				return sentinel.ErrConflict
			}
		}
	}
	approvedBy := update.ApprovedBy
	approvedAt := update.ApprovedAt
	p.ApprovalStatus = update.Status
	p.ApprovedBy = &approvedBy
	p.ApprovedAt = &approvedAt
	p.NoteForVendor = update.NoteForVendor
	p.DocumentNumber = update.DocumentNumber
	p.DocumentDate = update.DocumentDate
	p.VerificationToken = update.VerificationToken
	p.UpdatedAt = time.Now()
	return nil
}

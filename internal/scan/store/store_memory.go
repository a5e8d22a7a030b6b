package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"permitgate/internal/scan/models"
)

// MemoryStore is an in-memory scan record store for tests. Vendor names are
// registered per permit so free-text search behaves like the joined postgres
// query.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.ScanRecord
	vendors map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{vendors: make(map[string]string)}
}

// SetVendorName registers the permit's vendor name for search parity with the
// postgres join.
func (s *MemoryStore) SetVendorName(permitID, vendorName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[permitID] = vendorName
}

func (s *MemoryStore) Append(_ context.Context, record models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.Filter, page models.PageRequest) (models.ScanPage, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.ScanRecord
	for _, r := range s.records {
		if filter.From != nil && r.ScannedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.ScannedAt.After(*filter.To) {
			continue
		}
		if filter.ScannedBy != "" && r.ScannedBy != filter.ScannedBy {
			continue
		}
		if filter.Query != "" && !s.matchesQuery(r, filter.Query) {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ScannedAt.After(matched[j].ScannedAt)
	})

	result := models.ScanPage{Total: len(matched)}
	start := page.Offset()
	if start >= len(matched) {
		return result, nil
	}
	end := start + page.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	result.Records = append(result.Records, matched[start:end]...)
	return result, nil
}

func (s *MemoryStore) matchesQuery(r models.ScanRecord, q string) bool {
	q = strings.ToLower(q)
	fields := []string{r.DocumentNumber, r.ScannedBy, r.Location}
	if r.PermitID != nil {
		fields = append(fields, s.vendors[r.PermitID.String()])
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// CountByPermit returns the number of recorded scans for a permit.
func (s *MemoryStore) CountByPermit(_ context.Context, permitID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.PermitID != nil && r.PermitID.String() == permitID {
			n++
		}
	}
	return n, nil
}

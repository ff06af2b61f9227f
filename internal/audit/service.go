package audit

import (
	"context"
	"fmt"
)

// TimelineStore is the query surface the timeline service needs.
type TimelineStore interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]Entry, error)
}

// Service coordinates audit trail reads.
type Service struct {
	store TimelineStore
}

// NewService builds a timeline service.
func NewService(store TimelineStore) *Service {
	return &Service{store: store}
}

// Timeline fetches one page of entries. It asks for one row beyond the page
// size to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.store.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export fetches all matching entries without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	return s.store.TimelineAll(ctx, filters)
}

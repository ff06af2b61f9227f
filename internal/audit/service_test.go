package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineStore struct {
	windowRows []Entry
	allRows    []Entry

	lastLimit  int
	lastOffset int
	lastWindow TimelineFilters
}

func (s *stubTimelineStore) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	s.lastWindow = filters
	s.lastLimit = limit
	s.lastOffset = offset
	return s.windowRows, nil
}

func (s *stubTimelineStore) TimelineAll(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	return s.allRows, nil
}

func entryAt(ts string, kind string) Entry {
	at, _ := time.Parse(time.RFC3339, ts)
	return Entry{At: at, Actor: "p-1", Kind: kind, Entity: EntityRoleMembership, EntityID: "5"}
}

func TestTimelinePaging(t *testing.T) {
	store := &stubTimelineStore{
		windowRows: []Entry{
			entryAt("2025-03-10T10:00:00Z", KindCreate),
			entryAt("2025-03-09T09:00:00Z", KindDelete),
			entryAt("2025-03-08T08:00:00Z", KindUpdate),
		},
	}
	svc := NewService(store)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, store.lastLimit, "window asks one row beyond the page")
	assert.Equal(t, 0, store.lastOffset)
}

func TestTimelineDefaultsAndClamp(t *testing.T) {
	store := &stubTimelineStore{}
	svc := NewService(store)

	_, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 51, store.lastLimit, "page size clamps at 50")

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastOffset)
}

func TestExportReturnsAllRows(t *testing.T) {
	store := &stubTimelineStore{
		allRows: []Entry{
			entryAt("2025-03-10T10:00:00Z", KindCreate),
			entryAt("2025-03-09T09:00:00Z", KindDelete),
		},
	}
	svc := NewService(store)

	rows, err := svc.Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

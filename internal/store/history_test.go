package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

func TestMergeHistoryDedupesById(t *testing.T) {
	local := []*models.Ride{{ID: "1", Status: status.Completed}}
	fetched := []*models.Ride{
		{ID: "1", Status: status.Completed},
		{ID: "2", Status: status.Completed},
	}
	merged := mergeHistory(local, fetched)
	require.Len(t, merged, 2)
	assert.Equal(t, "1", merged[0].ID)
	assert.Equal(t, "2", merged[1].ID)
}

func TestMergeHistoryTerminalBeatsStub(t *testing.T) {
	local := []*models.Ride{{ID: "1", Status: status.Ongoing, Fare: 0}}
	fetched := []*models.Ride{{ID: "1", Status: status.Completed, Fare: 25}}
	merged := mergeHistory(local, fetched)
	require.Len(t, merged, 1)
	assert.Equal(t, status.Completed, merged[0].Status)
	assert.Equal(t, 25.0, merged[0].Fare)
}

func TestMergeHistoryPreservesLocalOnlyEntries(t *testing.T) {
	// completed right before a connectivity drop: the server does not know
	// about it yet, it must survive the merge
	local := []*models.Ride{{ID: "local-only", Status: status.Completed}}
	fetched := []*models.Ride{{ID: "2", Status: status.Completed}}
	merged := mergeHistory(local, fetched)
	require.Len(t, merged, 2)
	assert.Equal(t, "local-only", merged[0].ID)
}

func TestMergeHistorySkipsNonTerminalFetched(t *testing.T) {
	merged := mergeHistory(nil, []*models.Ride{{ID: "1", Status: status.Ongoing}})
	assert.Empty(t, merged)
}

func TestLoadHistoryFromBackendPersists(t *testing.T) {
	b := &fakeBackend{completed: []*models.Ride{
		{ID: "1", Status: status.Completed},
		{ID: "2", Status: status.Completed},
	}}
	s := newTestStore(t, b)
	s.mu.Lock()
	s.history = []*models.Ride{{ID: "1", Status: status.Completed}}
	s.mu.Unlock()

	require.NoError(t, s.LoadHistoryFromBackend(context.Background()))

	history := s.History()
	require.Len(t, history, 2)

	persisted, err := s.persist.History()
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestPrivateChannelUpdatesHistoryEntry(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})
	s.mu.Lock()
	s.history = []*models.Ride{{ID: "1", Status: status.Completed}}
	s.mu.Unlock()

	rating, tip := 4.5, 2.0
	s.ApplyRating("1", &rating, &tip)
	s.ConfirmPayment("1")

	h := s.History()[0]
	require.NotNil(t, h.Rating)
	assert.Equal(t, 4.5, *h.Rating)
	require.NotNil(t, h.Tip)
	assert.Equal(t, 2.0, *h.Tip)
	assert.True(t, h.PaymentConfirmed)
}

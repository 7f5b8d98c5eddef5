package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

func testRoom(id string) *models.Room {
	return &models.Room{
		ID:          id,
		Name:        "Focus Room",
		PriceINR:    500,
		MaxUsers:    4,
		SessionDate: "2026-03-14",
		StartTime:   "18:00:00",
		EndTime:     "20:00:00",
	}
}

func TestRoomAvailable(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 3, 14, hour, minute, 30, 0, time.UTC)
	}

	tests := []struct {
		name   string
		mutate func(*models.Room)
		now    time.Time
		want   bool
	}{
		{"inside window", nil, at(19, 0), true},
		{"at start minute", nil, at(18, 0), true},
		{"at end minute", nil, at(20, 0), true},
		{"before start", nil, at(17, 59), false},
		{"after end", nil, at(20, 1), false},
		{"wrong date", nil, time.Date(2026, 3, 15, 19, 0, 0, 0, time.UTC), false},
		{"full", func(r *models.Room) { r.CurrentUsers = r.MaxUsers }, at(19, 0), false},
		{"one seat left", func(r *models.Room) { r.CurrentUsers = r.MaxUsers - 1 }, at(19, 0), true},
		{"malformed start time", func(r *models.Room) { r.StartTime = "soon" }, at(19, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := testRoom("r1")
			if tt.mutate != nil {
				tt.mutate(room)
			}
			assert.Equal(t, tt.want, RoomAvailable(room, tt.now))
		})
	}
}

func TestListAvailableFilters(t *testing.T) {
	open := testRoom("open")
	full := testRoom("full")
	full.CurrentUsers = full.MaxUsers
	closed := testRoom("closed")
	closed.EndTime = "18:30:00"

	svc := NewRoomService(testConfig(), testLogger(), newFakeRoomStore(open, full, closed))

	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	rooms, err := svc.ListAvailable(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, rooms, 1)
	assert.Equal(t, "open", rooms[0].ID)
}

// liveRoom is available at the wall-clock time the watcher refreshes at.
func liveRoom(id string) *models.Room {
	room := testRoom(id)
	room.SessionDate = time.Now().Format("2006-01-02")
	room.StartTime = "00:00:00"
	room.EndTime = "23:59:00"
	return room
}

func TestVisibleFallsBackBeforeFirstRefresh(t *testing.T) {
	svc := NewRoomService(testConfig(), testLogger(), newFakeRoomStore(liveRoom("r1")))

	rooms, err := svc.Visible(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)

	// Nothing has refreshed the snapshot itself yet.
	assert.Empty(t, svc.Snapshot())
}

func TestRunRefreshesSnapshotOnInvalidate(t *testing.T) {
	room := liveRoom("r1")
	room.MaxUsers = 1
	svc := NewRoomService(testConfig(), testLogger(), newFakeRoomStore(room))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	rooms, err := svc.Visible(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	// Filling the last seat invalidates the snapshot; the room drops out of
	// the visible set without waiting for the interval refresh.
	require.NoError(t, svc.ClaimSeat(ctx, "r1"))
	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)

	rooms, err = svc.Visible(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// Releasing the seat brings it back the same way.
	require.NoError(t, svc.ReleaseSeat(ctx, "r1"))
	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestVisibleRechecksWindowOnRead(t *testing.T) {
	svc := NewRoomService(testConfig(), testLogger(), newFakeRoomStore(liveRoom("r1")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return len(svc.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	// A snapshot entry whose session day has passed is filtered on read even
	// though no refresh has run since.
	rooms, err := svc.Visible(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestGetRoomNotFound(t *testing.T) {
	svc := NewRoomService(testConfig(), testLogger(), newFakeRoomStore())

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestClaimSeat(t *testing.T) {
	room := testRoom("r1")
	room.MaxUsers = 2
	store := newFakeRoomStore(room)
	svc := NewRoomService(testConfig(), testLogger(), store)
	ctx := context.Background()

	require.NoError(t, svc.ClaimSeat(ctx, "r1"))
	require.NoError(t, svc.ClaimSeat(ctx, "r1"))
	assert.ErrorIs(t, svc.ClaimSeat(ctx, "r1"), ErrRoomFull)
	assert.Equal(t, 2, store.occupancy("r1"))

	require.NoError(t, svc.ReleaseSeat(ctx, "r1"))
	assert.Equal(t, 1, store.occupancy("r1"))
	require.NoError(t, svc.ClaimSeat(ctx, "r1"))
}

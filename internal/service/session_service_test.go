package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

func newTestSessionService(sessions *fakeSessionStore, rooms *fakeRoomStore) *SessionService {
	roomSvc := NewRoomService(testConfig(), testLogger(), rooms)
	return NewSessionService(testConfig(), testLogger(), sessions, roomSvc)
}

func TestCatchUp(t *testing.T) {
	base := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rewards int
		elapsed time.Duration
		want    int
	}{
		{"no time passed", 60, 0, 60},
		{"under a minute", 60, 59 * time.Second, 60},
		{"exactly one minute", 60, time.Minute, 59},
		{"partial minutes round down", 60, 185 * time.Second, 57},
		{"clamped at zero", 3, 10 * time.Minute, 0},
		{"clock skew backwards", 60, -5 * time.Minute, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catchUp(tt.rewards, base, base.Add(tt.elapsed)))
		})
	}
}

func TestAuthenticateCreatesSession(t *testing.T) {
	rooms := newFakeRoomStore(testRoom("r1"))
	sessions := newFakeSessionStore()
	svc := newTestSessionService(sessions, rooms)

	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	session, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username:  "alice",
		RoomID:    "r1",
		DeviceID:  "dev-a",
		PaymentID: "pay_1",
		PromoCode: "SAVE100",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, 60, session.RewardsLeft)
	assert.Equal(t, "dev-a", session.DeviceID)
	assert.Equal(t, "pay_1", session.PaymentID)
	assert.Equal(t, 1, rooms.occupancy("r1"))
}

func TestAuthenticateRoomFull(t *testing.T) {
	room := testRoom("r1")
	room.CurrentUsers = room.MaxUsers
	svc := newTestSessionService(newFakeSessionStore(), newFakeRoomStore(room))

	_, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-a",
	}, time.Now())
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestAuthenticateValidation(t *testing.T) {
	svc := newTestSessionService(newFakeSessionStore(), newFakeRoomStore(testRoom("r1")))

	_, err := svc.Authenticate(context.Background(), AuthenticateInput{RoomID: "r1", DeviceID: "d"}, time.Now())
	assert.Error(t, err)
	_, err = svc.Authenticate(context.Background(), AuthenticateInput{Username: "alice", DeviceID: "d"}, time.Now())
	assert.Error(t, err)
	_, err = svc.Authenticate(context.Background(), AuthenticateInput{Username: "alice", RoomID: "r1"}, time.Now())
	assert.Error(t, err)
}

func TestResumeDeviceContention(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	existing := &models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 120,
		DeviceID:    "dev-a",
		LastUpdated: now.Add(-10 * time.Minute),
	}
	svc := newTestSessionService(newFakeSessionStore(existing), newFakeRoomStore(testRoom("r1")))

	// Another device within the lock window is rejected.
	_, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-b",
	}, now)
	assert.ErrorIs(t, err, ErrDeviceInUse)

	// The holding device resumes freely.
	session, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-a",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 110, session.RewardsLeft)
}

func TestResumeStaleDeviceOverride(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	existing := &models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 120,
		DeviceID:    "dev-a",
		LastUpdated: now.Add(-65 * time.Minute),
	}
	sessions := newFakeSessionStore(existing)
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))

	session, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-b",
	}, now)
	require.NoError(t, err)

	// The idle hour is charged before the new device takes over.
	assert.Equal(t, "dev-b", session.DeviceID)
	assert.Equal(t, 55, session.RewardsLeft)
	assert.Equal(t, 55, sessions.rewards(7))
}

func TestResumeExpiredSession(t *testing.T) {
	existing := &models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 0,
		DeviceID:    "dev-a",
		LastUpdated: time.Now(),
	}
	svc := newTestSessionService(newFakeSessionStore(existing), newFakeRoomStore(testRoom("r1")))

	_, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-a",
	}, time.Now())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestResumeIdleToZeroExpires(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	room := testRoom("r1")
	room.CurrentUsers = 1
	rooms := newFakeRoomStore(room)
	existing := &models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 5,
		DeviceID:    "dev-a",
		LastUpdated: now.Add(-90 * time.Minute),
	}
	sessions := newFakeSessionStore(existing)
	svc := newTestSessionService(sessions, rooms)

	_, err := svc.Authenticate(context.Background(), AuthenticateInput{
		Username: "alice",
		RoomID:   "r1",
		DeviceID: "dev-a",
	}, now)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, sessions.rewards(7))
	assert.Equal(t, 0, rooms.occupancy("r1"))
}

func TestTickCatchUp(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 60,
		LastUpdated: t0,
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))
	ctx := context.Background()

	session, err := svc.Tick(ctx, 7, t0.Add(185*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 57, session.RewardsLeft)
	assert.Equal(t, 57, sessions.rewards(7))

	// Remainder seconds were not consumed; the next whole minute lands one
	// minute after the last update, not at a fixed 60s grid from t0.
	session, err = svc.Tick(ctx, 7, t0.Add(200*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 57, session.RewardsLeft)
}

func TestTickExpiresAndReleasesSeatOnce(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	room := testRoom("r1")
	room.CurrentUsers = 1
	rooms := newFakeRoomStore(room)
	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 2,
		LastUpdated: t0,
	})
	svc := newTestSessionService(sessions, rooms)
	ctx := context.Background()

	session, err := svc.Tick(ctx, 7, t0.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, session.RewardsLeft)
	assert.Equal(t, 0, sessions.rewards(7))
	assert.Equal(t, 0, rooms.occupancy("r1"))

	// Replayed ticks keep reporting expiry without touching occupancy again.
	_, err = svc.Tick(ctx, 7, t0.Add(6*time.Minute))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, rooms.occupancy("r1"))
}

func TestTickSurvivesBackendWriteFailure(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 60,
		LastUpdated: t0,
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))
	ctx := context.Background()

	sessions.setUpdateErr(errors.New("connection lost"))

	session, err := svc.Tick(ctx, 7, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 58, session.RewardsLeft)
	// Backend still holds the stale value.
	assert.Equal(t, 60, sessions.rewards(7))

	// Once the backend recovers, the flush repairs the row from the cache.
	sessions.setUpdateErr(nil)
	require.NoError(t, svc.Flush(ctx, 7))
	assert.Equal(t, 58, sessions.rewards(7))
}

func TestReadFallsBackToBackend(t *testing.T) {
	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 42,
		LastUpdated: time.Now(),
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))

	session, err := svc.Read(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 42, session.RewardsLeft)

	_, err = svc.Read(context.Background(), 99)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReadExpiredSession(t *testing.T) {
	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 0,
		LastUpdated: time.Now(),
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))

	session, err := svc.Read(context.Background(), 7)
	assert.ErrorIs(t, err, ErrSessionExpired)
	require.NotNil(t, session)
	assert.Equal(t, 0, session.RewardsLeft)
}

func TestTeardownFlushesAndForgets(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 60,
		LastUpdated: t0,
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))
	ctx := context.Background()

	sessions.setUpdateErr(errors.New("connection lost"))
	_, err := svc.Tick(ctx, 7, t0.Add(3*time.Minute))
	require.NoError(t, err)
	sessions.setUpdateErr(nil)

	require.NoError(t, svc.Teardown(ctx, 7))
	assert.Equal(t, 57, sessions.rewards(7))

	// The cache entry is gone; the next read comes from the backend.
	sessions.sessions[7].RewardsLeft = 41
	session, err := svc.Read(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 41, session.RewardsLeft)
}

func TestShutdownFlushesCachedSessions(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	sessions := newFakeSessionStore(&models.UserSession{
		ID:          7,
		Username:    "alice",
		RoomID:      "r1",
		RewardsLeft: 60,
		LastUpdated: t0,
	})
	svc := newTestSessionService(sessions, newFakeRoomStore(testRoom("r1")))
	ctx := context.Background()

	svc.StartCountdown(ctx, 7)

	sessions.setUpdateErr(errors.New("connection lost"))
	_, err := svc.Tick(ctx, 7, t0.Add(time.Minute))
	require.NoError(t, err)
	sessions.setUpdateErr(nil)

	svc.Shutdown(ctx)
	assert.Equal(t, 59, sessions.rewards(7))
}

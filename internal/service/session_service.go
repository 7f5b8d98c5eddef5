package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrSessionExpired = errors.New("session has expired")
var ErrDeviceInUse = errors.New("username is currently in use on another device")

// SessionStore is the persistence surface of the lifecycle manager.
type SessionStore interface {
	GetByID(ctx context.Context, id int64) (*models.UserSession, error)
	FindByUserAndRoom(ctx context.Context, username, roomID string) (*models.UserSession, error)
	Create(ctx context.Context, s *models.UserSession) error
	UpdateRewards(ctx context.Context, id int64, rewardsLeft int, lastUpdated time.Time) error
	ClaimDevice(ctx context.Context, id int64, deviceID string, now time.Time) error
}

// SessionService owns the access-grant lifecycle: creation after a verified
// payment, resume with the one-active-device policy, the per-minute rewards
// countdown, and the final write-back when a client goes away. Reads and
// decrement timing go through the in-process cache; the database row wins on
// any conflict and is always consulted for contention checks.
type SessionService struct {
	cfg      config.Config
	log      *slog.Logger
	sessions SessionStore
	rooms    *RoomService
	cache    *sessionCache

	mu         sync.Mutex
	countdowns map[int64]context.CancelFunc
}

func NewSessionService(cfg config.Config, log *slog.Logger, sessions SessionStore, rooms *RoomService) *SessionService {
	return &SessionService{
		cfg:        cfg,
		log:        log,
		sessions:   sessions,
		rooms:      rooms,
		cache:      newSessionCache(),
		countdowns: make(map[int64]context.CancelFunc),
	}
}

// AuthenticateInput carries everything the first post-payment authentication
// provides.
type AuthenticateInput struct {
	Username  string
	RoomID    string
	DeviceID  string
	PaymentID string
	PromoCode string
}

// Authenticate creates or resumes the grant for (username, room).
//
// Resume rules: an expired session is never resumed; a session held by a
// different device is rejected unless more than the device-lock window has
// passed since its last update (stale-device override). A resume applies the
// catch-up decrement for the time the session sat idle before handing it to
// the new device.
func (s *SessionService) Authenticate(ctx context.Context, in AuthenticateInput, now time.Time) (*models.UserSession, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if in.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if in.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	// Contention checks always hit the backend record, never the cache.
	existing, err := s.sessions.FindByUserAndRoom(ctx, in.Username, in.RoomID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	if existing != nil {
		return s.resume(ctx, existing, in.DeviceID, now)
	}

	session := &models.UserSession{
		Username:      in.Username,
		RoomID:        in.RoomID,
		RewardsLeft:   s.cfg.RewardMinutes,
		DeviceID:      in.DeviceID,
		LastUpdated:   now,
		PromoCodeUsed: in.PromoCode,
		PaymentID:     in.PaymentID,
	}

	if err := s.rooms.ClaimSeat(ctx, in.RoomID); err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if releaseErr := s.rooms.ReleaseSeat(ctx, in.RoomID); releaseErr != nil {
			s.log.Error("release seat after failed session create", "room_id", in.RoomID, "err", releaseErr)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.cache.put(*session)
	s.log.Info("session created", "session_id", session.ID, "username", session.Username, "room_id", session.RoomID, "device_id", session.DeviceID)
	return session, nil
}

func (s *SessionService) resume(ctx context.Context, existing *models.UserSession, deviceID string, now time.Time) (*models.UserSession, error) {
	if existing.Expired() {
		return nil, ErrSessionExpired
	}

	if existing.DeviceID != "" && existing.DeviceID != deviceID {
		if now.Sub(existing.LastUpdated) < s.cfg.DeviceLockWindow {
			return nil, ErrDeviceInUse
		}
	}

	// Charge the idle time before handing over: backgrounded or abandoned
	// minutes still count against the grant.
	rewards := catchUp(existing.RewardsLeft, existing.LastUpdated, now)
	if rewards <= 0 {
		existing.RewardsLeft = 0
		s.expire(ctx, existing, now)
		return nil, ErrSessionExpired
	}

	if err := s.sessions.ClaimDevice(ctx, existing.ID, deviceID, now); err != nil {
		return nil, fmt.Errorf("claim device: %w", err)
	}
	if rewards != existing.RewardsLeft {
		if err := s.sessions.UpdateRewards(ctx, existing.ID, rewards, now); err != nil {
			s.log.Error("persist catch-up on resume", "session_id", existing.ID, "err", err)
		}
	}

	existing.DeviceID = deviceID
	existing.RewardsLeft = rewards
	existing.LastUpdated = now

	// The backend record replaces whatever the cache held.
	s.cache.put(*existing)
	s.log.Info("session resumed", "session_id", existing.ID, "username", existing.Username, "device_id", deviceID, "rewards_left", rewards)
	return existing, nil
}

// catchUp applies the whole minutes elapsed since the last update, clamped at
// zero. Five minutes backgrounded costs five minutes, not one.
func catchUp(rewards int, lastUpdated, now time.Time) int {
	elapsed := int(now.Sub(lastUpdated) / time.Minute)
	if elapsed <= 0 {
		return rewards
	}
	rewards -= elapsed
	if rewards < 0 {
		rewards = 0
	}
	return rewards
}

// Read serves the session from the cache, falling back to the backend row
// and re-populating the cache on a miss. An expired session is still
// returned alongside ErrSessionExpired so callers can render the final
// state.
func (s *SessionService) Read(ctx context.Context, id int64) (*models.UserSession, error) {
	if cached, ok := s.cache.get(id); ok {
		if cached.Expired() {
			return &cached, ErrSessionExpired
		}
		return &cached, nil
	}

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	s.cache.put(*session)
	if session.Expired() {
		return session, ErrSessionExpired
	}
	return session, nil
}

// Tick advances the countdown: whole minutes elapsed since the last update
// are subtracted, clamped at zero, and the new state is written to the cache
// immediately and to the backend best-effort. A failed backend write is
// logged and the local countdown continues; the next successful tick or the
// final flush repairs the row. Returns ErrSessionExpired the moment the
// grant hits zero.
func (s *SessionService) Tick(ctx context.Context, id int64, now time.Time) (*models.UserSession, error) {
	session, err := s.Read(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return nil, err
	}
	if session.Expired() {
		// Already expired before this tick; the seat was released on the
		// original transition, so only the local state is torn down here.
		s.StopCountdown(id)
		s.cache.drop(id)
		return session, ErrSessionExpired
	}

	rewards := catchUp(session.RewardsLeft, session.LastUpdated, now)
	if rewards == session.RewardsLeft {
		return session, nil
	}

	session.RewardsLeft = rewards
	session.LastUpdated = now
	s.cache.put(*session)

	if err := s.sessions.UpdateRewards(ctx, id, rewards, now); err != nil {
		s.log.Error("session tick sync failed", "session_id", id, "err", err)
	}

	if session.Expired() {
		s.expire(ctx, session, now)
		return session, ErrSessionExpired
	}
	return session, nil
}

// Flush forces the cached countdown state into the backend. Called when a
// client navigates away so the authoritative record never lags a closed
// client by more than one tick.
func (s *SessionService) Flush(ctx context.Context, id int64) error {
	cached, ok := s.cache.get(id)
	if !ok {
		// Nothing local to write back; the backend row is already current.
		return nil
	}
	if err := s.sessions.UpdateRewards(ctx, id, cached.RewardsLeft, cached.LastUpdated); err != nil {
		return fmt.Errorf("flush session: %w", err)
	}
	return nil
}

// Teardown flushes the cached state, stops the countdown and forgets the
// session locally. The backend row survives so the user can resume from
// another device later.
func (s *SessionService) Teardown(ctx context.Context, id int64) error {
	err := s.Flush(ctx, id)
	s.StopCountdown(id)
	s.cache.drop(id)
	return err
}

func (s *SessionService) expire(ctx context.Context, session *models.UserSession, now time.Time) {
	s.StopCountdown(session.ID)
	s.cache.drop(session.ID)
	if err := s.sessions.UpdateRewards(ctx, session.ID, 0, now); err != nil {
		s.log.Error("persist session expiry", "session_id", session.ID, "err", err)
	}
	if err := s.rooms.ReleaseSeat(ctx, session.RoomID); err != nil {
		s.log.Error("release seat on expiry", "session_id", session.ID, "room_id", session.RoomID, "err", err)
	}
	s.log.Info("session expired", "session_id", session.ID, "username", session.Username, "room_id", session.RoomID)
}

// StartCountdown runs the per-minute decrement for a session until it
// expires or the service shuts down. Starting an already running countdown
// is a no-op.
func (s *SessionService) StartCountdown(ctx context.Context, id int64) {
	s.mu.Lock()
	if _, running := s.countdowns[id]; running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.countdowns[id] = cancel
	s.mu.Unlock()

	go s.runCountdown(runCtx, id)
}

// StopCountdown cancels the ticker for a session. Safe to call for sessions
// without a running countdown.
func (s *SessionService) StopCountdown(id int64) {
	s.mu.Lock()
	cancel, ok := s.countdowns[id]
	if ok {
		delete(s.countdowns, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *SessionService) runCountdown(ctx context.Context, id int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, id, time.Now()); err != nil {
				if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionNotFound) {
					s.StopCountdown(id)
					return
				}
				s.log.Error("countdown tick", "session_id", id, "err", err)
			}
		}
	}
}

// Shutdown flushes every cached session and stops all countdown timers.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.countdowns))
	ids := make([]int64, 0, len(s.countdowns))
	for id, cancel := range s.countdowns {
		ids = append(ids, id)
		cancels = append(cancels, cancel)
	}
	s.countdowns = make(map[int64]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, id := range ids {
		if err := s.Flush(ctx, id); err != nil {
			s.log.Error("flush session on shutdown", "session_id", id, "err", err)
		}
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		PaymentCurrency:  "INR",
		RewardMinutes:    60,
		DeviceLockWindow: 60 * time.Minute,
		RoomRefresh:      30 * time.Second,
	}
}

type fakeRoomStore struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func newFakeRoomStore(rooms ...*models.Room) *fakeRoomStore {
	s := &fakeRoomStore{rooms: make(map[string]*models.Room)}
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
	return s
}

func (s *fakeRoomStore) GetByID(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	copied := *room
	return &copied, nil
}

func (s *fakeRoomStore) ListByDate(ctx context.Context, date string) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Room
	for _, r := range s.rooms {
		if r.SessionDate == date {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRoomStore) IncrementUsers(ctx context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || room.CurrentUsers >= room.MaxUsers {
		return false, nil
	}
	room.CurrentUsers++
	return true, nil
}

func (s *fakeRoomStore) DecrementUsers(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok && room.CurrentUsers > 0 {
		room.CurrentUsers--
	}
	return nil
}

func (s *fakeRoomStore) occupancy(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID].CurrentUsers
}

type fakePromoStore struct {
	mu       sync.Mutex
	promos   map[int64]*models.PromoCode
	redeemed map[string]int64 // payment id -> promo id
}

func newFakePromoStore(promos ...*models.PromoCode) *fakePromoStore {
	s := &fakePromoStore{
		promos:   make(map[int64]*models.PromoCode),
		redeemed: make(map[string]int64),
	}
	for _, p := range promos {
		s.promos[p.ID] = p
	}
	return s
}

func (s *fakePromoStore) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.promos {
		if p.Code == code {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakePromoStore) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakePromoStore) RedeemOnce(ctx context.Context, promoID int64, roomID, username, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.redeemed[paymentID]; ok {
		return true, nil
	}
	p, ok := s.promos[promoID]
	if !ok {
		return false, errors.New("promo not found")
	}
	if p.MaxUses > 0 && p.TotalUses >= p.MaxUses {
		return false, errors.New("no uses left")
	}
	p.TotalUses++
	s.redeemed[paymentID] = promoID
	return false, nil
}

func (s *fakePromoStore) uses(promoID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promos[promoID].TotalUses
}

type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[int64]*models.UserSession
	nextID    int64
	updateErr error
}

func newFakeSessionStore(sessions ...*models.UserSession) *fakeSessionStore {
	s := &fakeSessionStore{sessions: make(map[int64]*models.UserSession), nextID: 1}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
		if sess.ID >= s.nextID {
			s.nextID = sess.ID + 1
		}
	}
	return s
}

func (s *fakeSessionStore) GetByID(ctx context.Context, id int64) (*models.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *fakeSessionStore) FindByUserAndRoom(ctx context.Context, username, roomID string) (*models.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Username == username && sess.RoomID == roomID {
			copied := *sess
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeSessionStore) Create(ctx context.Context, sess *models.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = s.nextID
	s.nextID++
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *fakeSessionStore) UpdateRewards(ctx context.Context, id int64, rewardsLeft int, lastUpdated time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if sess, ok := s.sessions[id]; ok {
		sess.RewardsLeft = rewardsLeft
		sess.LastUpdated = lastUpdated
	}
	return nil
}

func (s *fakeSessionStore) ClaimDevice(ctx context.Context, id int64, deviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.DeviceID = deviceID
		sess.LastUpdated = now
	}
	return nil
}

func (s *fakeSessionStore) rewards(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].RewardsLeft
}

func (s *fakeSessionStore) setUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrRoomFull = errors.New("room is full")

// RoomStore is the persistence surface the room service needs.
type RoomStore interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
	ListByDate(ctx context.Context, date string) ([]models.Room, error)
	IncrementUsers(ctx context.Context, roomID string) (bool, error)
	DecrementUsers(ctx context.Context, roomID string) error
}

// RoomService evaluates room availability independently of any stored flag
// and keeps a periodically refreshed snapshot of the visible set.
type RoomService struct {
	cfg   config.Config
	log   *slog.Logger
	rooms RoomStore

	mu        sync.RWMutex
	snapshot  []models.Room
	refreshed bool

	refresh chan struct{}
}

func NewRoomService(cfg config.Config, log *slog.Logger, rooms RoomStore) *RoomService {
	return &RoomService{
		cfg:     cfg,
		log:     log,
		rooms:   rooms,
		refresh: make(chan struct{}, 1),
	}
}

// RoomAvailable is the availability predicate: the room's session date is
// today, the current wall-clock time falls inside [start, end] at minute
// granularity, and a seat is free. Evaluated here on every call because the
// store has no knowledge of "now".
func RoomAvailable(room *models.Room, now time.Time) bool {
	if room.SessionDate != now.Format("2006-01-02") {
		return false
	}
	start, ok := clockMinutes(room.StartTime)
	if !ok {
		return false
	}
	end, ok := clockMinutes(room.EndTime)
	if !ok {
		return false
	}
	current := now.Hour()*60 + now.Minute()
	if current < start || current > end {
		return false
	}
	return room.CurrentUsers < room.MaxUsers
}

// clockMinutes parses "HH:MM:SS" (seconds optional) into minutes since
// midnight.
func clockMinutes(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// ListAvailable fetches today's rooms and filters them through the
// availability predicate.
func (s *RoomService) ListAvailable(ctx context.Context, now time.Time) ([]models.Room, error) {
	rooms, err := s.rooms.ListByDate(ctx, now.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list rooms by date: %w", err)
	}

	available := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if RoomAvailable(&room, now) {
			available = append(available, room)
		}
	}
	return available, nil
}

// Get returns the room or ErrRoomNotFound.
func (s *RoomService) Get(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ClaimSeat bumps the occupancy counter, failing with ErrRoomFull when the
// room is at capacity. The visible set is invalidated so the room drops out
// without waiting for the periodic refresh.
func (s *RoomService) ClaimSeat(ctx context.Context, roomID string) error {
	ok, err := s.rooms.IncrementUsers(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomFull
	}
	s.Invalidate()
	return nil
}

func (s *RoomService) ReleaseSeat(ctx context.Context, roomID string) error {
	if err := s.rooms.DecrementUsers(ctx, roomID); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Snapshot returns the last refreshed visible set.
func (s *RoomService) Snapshot() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Room, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Visible is the read path for the room listing. It serves the watcher's
// snapshot, re-checking the predicate per call so a room whose window closed
// since the last refresh never shows up. Until the watcher has refreshed at
// least once it falls back to a direct fetch.
func (s *RoomService) Visible(ctx context.Context, now time.Time) ([]models.Room, error) {
	s.mu.RLock()
	refreshed := s.refreshed
	snapshot := make([]models.Room, len(s.snapshot))
	copy(snapshot, s.snapshot)
	s.mu.RUnlock()

	if !refreshed {
		return s.ListAvailable(ctx, now)
	}

	visible := make([]models.Room, 0, len(snapshot))
	for _, room := range snapshot {
		if RoomAvailable(&room, now) {
			visible = append(visible, room)
		}
	}
	return visible, nil
}

// Invalidate requests an immediate snapshot refresh. Non-blocking; a refresh
// already pending covers this call too.
func (s *RoomService) Invalidate() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Run refreshes the snapshot on the configured interval and on Invalidate
// signals until the context is cancelled. The interval refresh is the
// correctness backstop against missed change notifications.
func (s *RoomService) Run(ctx context.Context) {
	interval := s.cfg.RoomRefresh
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.refreshSnapshot(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshSnapshot(ctx)
		case <-s.refresh:
			s.refreshSnapshot(ctx)
		}
	}
}

func (s *RoomService) refreshSnapshot(ctx context.Context) {
	available, err := s.ListAvailable(ctx, time.Now())
	if err != nil {
		s.log.Error("room snapshot refresh failed", "err", err)
		return
	}
	s.mu.Lock()
	s.snapshot = available
	s.refreshed = true
	s.mu.Unlock()
}

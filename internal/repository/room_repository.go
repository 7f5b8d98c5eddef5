package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

type RoomRepository struct {
	db *sql.DB
}

func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) DB() *sql.DB {
	return r.db
}

const roomColumns = `id, name, COALESCE(description, ''), url, price_inr, current_users, max_users,
DATE_FORMAT(session_date, '%Y-%m-%d'), TIME_FORMAT(session_start_time, '%H:%i:%s'), TIME_FORMAT(session_end_time, '%H:%i:%s'), created_at`

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var room models.Room
	if err := row.Scan(&room.ID, &room.Name, &room.Description, &room.URL, &room.PriceINR,
		&room.CurrentUsers, &room.MaxUsers, &room.SessionDate, &room.StartTime, &room.EndTime, &room.CreatedAt); err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return room, nil
}

// ListByDate returns every room scheduled for the given calendar day
// (YYYY-MM-DD). Availability is evaluated by the caller; the stored counters
// and window are returned as-is.
func (r *RoomRepository) ListByDate(ctx context.Context, date string) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE session_date = ? ORDER BY session_start_time`
	rows, err := r.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room list: %w", err)
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func (r *RoomRepository) Create(ctx context.Context, room *models.Room) error {
	const query = `
INSERT INTO rooms (id, name, description, url, price_inr, current_users, max_users, session_date, session_start_time, session_end_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, room.ID, room.Name, room.Description, room.URL,
		room.PriceINR, room.CurrentUsers, room.MaxUsers, room.SessionDate, room.StartTime, room.EndTime); err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// IncrementUsers claims a seat; it fails closed when the room is already full.
func (r *RoomRepository) IncrementUsers(ctx context.Context, roomID string) (bool, error) {
	const query = `UPDATE rooms SET current_users = current_users + 1 WHERE id = ? AND current_users < max_users`
	res, err := r.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return false, fmt.Errorf("increment room users: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("room users rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *RoomRepository) DecrementUsers(ctx context.Context, roomID string) error {
	const query = `UPDATE rooms SET current_users = GREATEST(current_users - 1, 0) WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, roomID); err != nil {
		return fmt.Errorf("decrement room users: %w", err)
	}
	return nil
}

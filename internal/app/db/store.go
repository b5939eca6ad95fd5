package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/user"
	"roomcast/internal/pkg/errs"
)

// PostgresStore implements chat.Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const insertMessageSQL = `
INSERT INTO messages (id, room_id, user_id, user_name, user_avatar, user_type, text, file_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id::text`

// PersistMessage stores msg and returns its id.
func (s *PostgresStore) PersistMessage(ctx context.Context, msg chat.Message) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, insertMessageSQL,
		msg.ID, msg.RoomID,
		msg.Author.ID, msg.Author.Name, msg.Author.Avatar, msg.Author.UserType,
		msg.Text, msg.FileID, msg.Timestamp,
	).Scan(&id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return "", errs.NewError(errs.ErrRoomNotFound)
		}
		return "", fmt.Errorf("insert message: %w", err)
	}

	return id, nil
}

const recentMessagesSQL = `
SELECT id::text, room_id, user_id, user_name, user_avatar, user_type, text, file_id, created_at
FROM messages
WHERE room_id = $1
ORDER BY created_at DESC
LIMIT $2`

// LoadRecentMessages returns up to limit messages of roomID, oldest first.
func (s *PostgresStore) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, recentMessagesSQL, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan recent messages: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var (
		msg    chat.Message
		author user.User
	)

	err := row.Scan(
		&msg.ID, &msg.RoomID,
		&author.ID, &author.Name, &author.Avatar, &author.UserType,
		&msg.Text, &msg.FileID, &msg.Timestamp,
	)
	if err != nil {
		return chat.Message{}, err
	}

	msg.Author = author
	msg.Timestamp = msg.Timestamp.UTC()
	if msg.FileID != "" {
		ref := chat.FileRefFromKey(msg.FileID)
		msg.File = &ref
	}

	return msg, nil
}

const roomColumns = `id, name, description, is_private, created_by, created_at`

func scanRoom(row pgx.Row) (chat.Room, error) {
	var room chat.Room
	err := row.Scan(&room.ID, &room.Name, &room.Description, &room.IsPrivate, &room.CreatedBy, &room.CreatedAt)
	room.CreatedAt = room.CreatedAt.UTC()
	return room, err
}

// LoadRoomMetadata returns the stored room, or errs.ErrRoomNotFound.
func (s *PostgresStore) LoadRoomMetadata(ctx context.Context, roomID string) (chat.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		if IsNoRows(err) {
			return chat.Room{}, errs.NewError(errs.ErrRoomNotFound)
		}
		return chat.Room{}, fmt.Errorf("load room %s: %w", roomID, err)
	}

	return room, nil
}

// ListRooms returns every stored room in creation order.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]chat.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}

	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Room, error) {
		return scanRoom(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}

	return rooms, nil
}

const insertRoomSQL = `
INSERT INTO rooms (` + roomColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)`

// SaveRoom inserts room. A duplicate id yields errs.ErrRoomCodeExists.
func (s *PostgresStore) SaveRoom(ctx context.Context, room chat.Room) error {
	_, err := s.pool.Exec(ctx, insertRoomSQL,
		room.ID, room.Name, room.Description, room.IsPrivate, room.CreatedBy, room.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errs.NewError(errs.ErrRoomCodeExists)
		}
		return fmt.Errorf("insert room %s: %w", room.ID, err)
	}

	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

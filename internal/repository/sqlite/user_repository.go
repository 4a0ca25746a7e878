package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"userhub/internal/domain"
	"userhub/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	email TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	age INTEGER NOT NULL,
	role TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// UserSnapshotStore keeps the latest full copy of the user collection.
// Every Save replaces the previous snapshot; insertion order is kept in
// the position column.
type UserSnapshotStore struct {
	db *sql.DB
}

var _ repository.SnapshotStore = (*UserSnapshotStore)(nil)

func NewUserSnapshotStore(db *sql.DB) *UserSnapshotStore {
	return &UserSnapshotStore{db: db}
}

func (s *UserSnapshotStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (s *UserSnapshotStore) Save(ctx context.Context, users []domain.User) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO users (id, position, email, first_name, last_name, age, role, is_active, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare user insert: %w", err)
	}
	defer stmt.Close()

	for i, u := range users {
		if _, err = stmt.ExecContext(ctx,
			u.ID,
			i,
			u.Email,
			u.FirstName,
			u.LastName,
			u.Age,
			string(u.Role),
			u.IsActive,
			u.PasswordHash,
			formatTime(u.CreatedAt),
			formatTime(u.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot in the order it was saved. An empty table
// yields an empty slice.
func (s *UserSnapshotStore) Load(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, email, first_name, last_name, age, role, is_active, password_hash, created_at, updated_at
FROM users
ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user      domain.User
		role      string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Age,
		&role,
		&user.IsActive,
		&user.PasswordHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Role = domain.Role(role)

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("user %s created_at: %w", user.ID, err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("user %s updated_at: %w", user.ID, err)
	}
	return &user, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mmynk/walktracker/internal/models"
)

// UpsertUser inserts a user or refreshes the name and image of an existing one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user models.User) error {
	query := `
		INSERT INTO users (email, name, image, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			image = COALESCE(excluded.image, users.image)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.Email,
		user.Name,
		nullString(user.Image),
		s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// ListUsers returns all users ordered case-insensitively by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, name, image FROM users ORDER BY lower(name), email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var image sql.NullString
		if err := rows.Scan(&u.Email, &u.Name, &image); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if image.Valid {
			u.Image = image.String
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

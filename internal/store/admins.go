// admins.go — admin principal CRUD.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const adminColumns = `id, username, hashed_password, email, is_active, created_at, last_login`

func scanAdmin(row interface{ Scan(...any) error }) (*AdminUser, error) {
	var a AdminUser
	err := row.Scan(&a.ID, &a.Username, &a.HashedPassword, &a.Email,
		&a.IsActive, &a.CreatedAt, &a.LastLogin)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAdminUser inserts an operator principal. The password must already
// be hashed; plaintext never reaches this layer.
func (s *Store) CreateAdminUser(ctx context.Context, username, hashedPassword string, email *string) (*AdminUser, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO admin_users (username, hashed_password, email)
		VALUES ($1, $2, $3)
		RETURNING `+adminColumns,
		username, hashedPassword, email)

	a, err := scanAdmin(row)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create admin user: %w", err)
	}
	return a, nil
}

// GetAdminUser returns the active principal with the given username.
func (s *Store) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+adminColumns+` FROM admin_users
		WHERE username = $1 AND is_active = true`, username)

	a, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin user: %w", err)
	}
	return a, nil
}

// CountAdminUsers reports how many principals exist, active or not.
// Used by the bootstrap check at startup.
func (s *Store) CountAdminUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admin users: %w", err)
	}
	return n, nil
}

// UpdateAdminLastLogin stamps the principal's last successful login.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	return nil
}

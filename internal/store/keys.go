// keys.go — API key CRUD.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const apiKeyColumns = `id, key, user_id, tier, is_active, created_at, updated_at, expires_at, description, created_by`

func scanAPIKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.Key, &k.UserID, &k.Tier, &k.IsActive,
		&k.CreatedAt, &k.UpdatedAt, &k.ExpiresAt, &k.Description, &k.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey inserts a new credential and returns it with its identity
// assigned. Returns ErrDuplicate if the secret collides.
func (s *Store) CreateAPIKey(ctx context.Context, key, userID, tier string, description, createdBy *string, expiresAt *time.Time) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (key, user_id, tier, description, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+apiKeyColumns,
		key, userID, tier, description, createdBy, expiresAt)

	k, err := scanAPIKey(row)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyBySecret looks up a credential by its secret string.
// Inactive rows are never returned; expiry is the caller's concern.
func (s *Store) GetAPIKeyBySecret(ctx context.Context, secret string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key = $1 AND is_active = true`, secret)

	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByID looks up a credential by identity, active or not.
func (s *Store) GetAPIKeyByID(ctx context.Context, id int64) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)

	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by id: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns a page of credentials ordered by creation time,
// newest first.
func (s *Store) ListAPIKeys(ctx context.Context, offset, limit int) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("list api keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateAPIKey applies the non-nil fields and bumps updated_at.
// Returns ErrNotFound if no such credential exists.
func (s *Store) UpdateAPIKey(ctx context.Context, id int64, tier *string, isActive *bool, description *string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE api_keys SET
			tier        = COALESCE($2, tier),
			is_active   = COALESCE($3, is_active),
			description = COALESCE($4, description),
			updated_at  = now()
		WHERE id = $1
		RETURNING `+apiKeyColumns,
		id, tier, isActive, description)

	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}
	return k, nil
}

// SoftDeleteAPIKey deactivates a credential. Rows are never hard-deleted so
// request-log joins stay resolvable. Returns ErrNotFound if absent.
func (s *Store) SoftDeleteAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = false, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// APIKeysByUser returns every credential for a user, active or not,
// newest first.
func (s *Store) APIKeysByUser(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("api keys by user: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("api keys by user: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

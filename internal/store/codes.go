// codes.go — verification code lifecycle: FRESH → USED, or FRESH → expired
// and eventually purged. Terminal states never transition back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const codeColumns = `id, email, code, created_at, expires_at, used, ip_address`

func scanCode(row interface{ Scan(...any) error }) (*VerificationCode, error) {
	var c VerificationCode
	err := row.Scan(&c.ID, &c.Email, &c.Code, &c.CreatedAt, &c.ExpiresAt,
		&c.Used, &c.IPAddress)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateVerificationCode persists a fresh code with its expiry.
func (s *Store) CreateVerificationCode(ctx context.Context, email, code string, expiresAt time.Time, ipAddress *string) (*VerificationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO verification_codes (email, code, expires_at, ip_address)
		VALUES ($1, $2, $3, $4)
		RETURNING `+codeColumns,
		email, code, expiresAt, ipAddress)

	c, err := scanCode(row)
	if err != nil {
		return nil, fmt.Errorf("create verification code: %w", err)
	}
	return c, nil
}

// GetRedeemableCode returns the most recent code for (email, code) that is
// unused and unexpired, or ErrNotFound. The match happens inside the query so
// the handler path does the same work whether or not a code exists.
func (s *Store) GetRedeemableCode(ctx context.Context, email, code string) (*VerificationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+codeColumns+` FROM verification_codes
		WHERE email = $1 AND code = $2 AND used = false AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`, email, code)

	c, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get redeemable code: %w", err)
	}
	return c, nil
}

// MarkCodeUsed flips a code to its terminal USED state. Idempotent: marking
// an already-used code is a no-op, not an error.
func (s *Store) MarkCodeUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE verification_codes SET used = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	return nil
}

// PurgeExpiredCodes garbage-collects codes past their expiry and returns the
// number deleted. Best-effort housekeeping; redeemability never depends on it.
func (s *Store) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired codes: %w", err)
	}
	return n, nil
}

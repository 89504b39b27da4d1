// fixtures.go — test data seed helpers for credentials and admin principals.
package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"
)

// APIKey is a minimal seeded credential.
type APIKey struct {
	ID     int64
	Key    string
	UserID string
	Tier   string
}

// SeedAPIKey inserts an active credential for the given tier and returns it.
// The user id is unique per call so parallel tests do not collide.
func SeedAPIKey(t *testing.T, db *sql.DB, tier string) *APIKey {
	t.Helper()
	k := &APIKey{
		Key:    fmt.Sprintf("sk-internal-test-%d", time.Now().UnixNano()),
		UserID: fmt.Sprintf("user-%d@company.com", time.Now().UnixNano()),
		Tier:   tier,
	}
	err := db.QueryRow(`
		INSERT INTO api_keys (key, user_id, tier, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`, k.Key, k.UserID, k.Tier).Scan(&k.ID)
	if err != nil {
		t.Fatalf("seed api key: %v", err)
	}
	return k
}

// SeedAdmin inserts an admin principal with a pre-computed bcrypt hash.
func SeedAdmin(t *testing.T, db *sql.DB, username, hashedPassword string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO admin_users (username, hashed_password, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (username) DO UPDATE SET hashed_password = EXCLUDED.hashed_password
		RETURNING id
	`, username, hashedPassword).Scan(&id)
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return id
}

// CleanupAPIKey removes a seeded credential and its request logs.
func CleanupAPIKey(db *sql.DB, id int64) {
	_, _ = db.Exec(`DELETE FROM request_logs WHERE api_key_id = $1`, id)
	_, _ = db.Exec(`DELETE FROM api_keys WHERE id = $1`, id)
}

// CleanupCodes removes all verification codes for an email.
func CleanupCodes(db *sql.DB, email string) {
	_, _ = db.Exec(`DELETE FROM verification_codes WHERE email = $1`, email)
}

// Package store is the single point of truth for persisted state: API keys,
// admin users, verification codes, and request logs. All operations run as a
// single database round-trip (or an explicit transaction) against Postgres
// and commit before returning; callers hold no cross-call locks.
package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on unique-constraint violations.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store wraps the database handle. Open once at startup, Close at shutdown.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// APIKey is a credential row.
type APIKey struct {
	ID          int64
	Key         string
	UserID      string
	Tier        string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
	Description *string
	CreatedBy   *string
}

// AdminUser is an operator principal.
type AdminUser struct {
	ID             int64
	Username       string
	HashedPassword string
	Email          *string
	IsActive       bool
	CreatedAt      time.Time
	LastLogin      *time.Time
}

// VerificationCode is a one-time issuance code.
type VerificationCode struct {
	ID        int64
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	IPAddress *string
}

// RequestLog is one accounting row for an edge request.
type RequestLog struct {
	ID               int64
	UserID           string
	APIKeyID         *int64
	Endpoint         string
	Method           string
	StatusCode       int
	DurationMS       float64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            *string
	Error            *string
	Timestamp        time.Time
}

// UsageStat is one aggregated usage row, grouped by calendar date.
type UsageStat struct {
	Date             string
	Requests         int64
	TotalTokens      int64
	PromptTokens     int64
	CompletionTokens int64
}

// isDuplicate reports whether err is a unique-constraint violation.
// lib/pq surfaces these as pq.Error with code 23505; matching on the message
// keeps the check driver-portable.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

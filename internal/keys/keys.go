// Package keys handles API credential secrets: generation, bearer-header
// parsing, and the gateway's stage-one verification with its 401 taxonomy.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/store"
)

// Prefix marks every credential minted by this system.
const Prefix = "sk-internal-"

var (
	// ErrMissing — no Authorization header or no bearer credential in it.
	ErrMissing = errors.New("keys: missing api key")
	// ErrInvalid — the credential is not in the repository.
	ErrInvalid = errors.New("keys: invalid api key")
	// ErrInactive — the credential exists but has been deactivated.
	ErrInactive = errors.New("keys: api key deactivated")
	// ErrExpired — the credential's expiry has passed.
	ErrExpired = errors.New("keys: api key expired")
)

// Info is the authenticated caller carried through the proxy pipeline.
type Info struct {
	KeyID  int64
	Secret string
	UserID string
	Tier   string
}

// Lookup is the slice of the repository the verifier needs.
type Lookup interface {
	GetAPIKeyBySecret(ctx context.Context, secret string) (*store.APIKey, error)
}

// Generate mints a fresh credential secret: the prefix followed by 32 random
// bytes, URL-safe base64 without padding.
func Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// FromRequest extracts the bearer credential from the Authorization header.
func FromRequest(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissing
	}
	const scheme = "Bearer "
	if len(h) <= len(scheme) || !strings.EqualFold(h[:len(scheme)], scheme) {
		return "", ErrMissing
	}
	secret := strings.TrimSpace(h[len(scheme):])
	if secret == "" {
		return "", ErrMissing
	}
	return secret, nil
}

// Verify authenticates a credential secret against the repository.
// A credential is usable iff it is active and either carries no expiry or the
// expiry lies in the future; expiry is compared against the current time, not
// any row timestamp.
func Verify(ctx context.Context, db Lookup, secret string) (Info, error) {
	k, err := db.GetAPIKeyBySecret(ctx, secret)
	if errors.Is(err, store.ErrNotFound) {
		return Info{}, ErrInvalid
	}
	if err != nil {
		return Info{}, err
	}

	if !k.IsActive {
		return Info{}, ErrInactive
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(time.Now()) {
		return Info{}, ErrExpired
	}

	return Info{KeyID: k.ID, Secret: k.Key, UserID: k.UserID, Tier: k.Tier}, nil
}

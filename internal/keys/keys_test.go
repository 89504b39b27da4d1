package keys_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/llmgate/llmgate/internal/keys"
	"github.com/llmgate/llmgate/internal/store"
)

// fakeLookup serves one credential row, mirroring the repository contract:
// inactive rows are never returned.
type fakeLookup struct {
	key *store.APIKey
}

func (f *fakeLookup) GetAPIKeyBySecret(_ context.Context, secret string) (*store.APIKey, error) {
	if f.key != nil && f.key.Key == secret && f.key.IsActive {
		k := *f.key
		return &k, nil
	}
	return nil, store.ErrNotFound
}

func TestGenerateFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		secret, err := keys.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !strings.HasPrefix(secret, keys.Prefix) {
			t.Fatalf("secret %q lacks prefix %q", secret, keys.Prefix)
		}
		// 32 bytes of URL-safe base64 without padding is 43 characters.
		if got := len(secret) - len(keys.Prefix); got != 43 {
			t.Fatalf("random part is %d chars, want 43", got)
		}
		if strings.ContainsAny(secret, "+/=") {
			t.Fatalf("secret %q is not URL-safe", secret)
		}
		if seen[secret] {
			t.Fatal("Generate returned a duplicate secret")
		}
		seen[secret] = true
	}
}

func TestFromRequest(t *testing.T) {
	mk := func(header string) *http.Request {
		r, _ := http.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	if _, err := keys.FromRequest(mk("")); err != keys.ErrMissing {
		t.Errorf("no header: err = %v, want ErrMissing", err)
	}
	if _, err := keys.FromRequest(mk("Basic abc")); err != keys.ErrMissing {
		t.Errorf("wrong scheme: err = %v, want ErrMissing", err)
	}
	if _, err := keys.FromRequest(mk("Bearer ")); err != keys.ErrMissing {
		t.Errorf("empty credential: err = %v, want ErrMissing", err)
	}

	secret, err := keys.FromRequest(mk("Bearer sk-internal-abc"))
	if err != nil || secret != "sk-internal-abc" {
		t.Errorf("got (%q, %v), want (sk-internal-abc, nil)", secret, err)
	}
	// Scheme matching is case-insensitive per RFC 7235.
	if s, _ := keys.FromRequest(mk("bearer sk-internal-abc")); s != "sk-internal-abc" {
		t.Errorf("lowercase scheme rejected")
	}
}

func TestVerify(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Second)

	base := store.APIKey{
		ID: 7, Key: "sk-internal-good", UserID: "alice@company.com",
		Tier: "standard", IsActive: true,
	}

	t.Run("usable", func(t *testing.T) {
		db := &fakeLookup{key: &base}
		info, err := keys.Verify(context.Background(), db, "sk-internal-good")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if info.KeyID != 7 || info.UserID != "alice@company.com" || info.Tier != "standard" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("unknown secret", func(t *testing.T) {
		db := &fakeLookup{key: &base}
		if _, err := keys.Verify(context.Background(), db, "sk-internal-nope"); err != keys.ErrInvalid {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
	})

	t.Run("future expiry ok", func(t *testing.T) {
		k := base
		k.ExpiresAt = &future
		db := &fakeLookup{key: &k}
		if _, err := keys.Verify(context.Background(), db, k.Key); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		k := base
		k.ExpiresAt = &past
		db := &fakeLookup{key: &k}
		if _, err := keys.Verify(context.Background(), db, k.Key); err != keys.ErrExpired {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})
}

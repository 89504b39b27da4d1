package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/llmgate/llmgate/internal/admin"
	"github.com/llmgate/llmgate/internal/admintoken"
	"github.com/llmgate/llmgate/internal/store"
	"github.com/llmgate/llmgate/internal/testutil"
)

// memRepo is an in-memory admin.Repository.
type memRepo struct {
	mu        sync.Mutex
	nextID    int64
	nextKeyID int64
	admins    []*store.AdminUser
	keys      []*store.APIKey
	stats     []*store.UsageStat
}

func (m *memRepo) GetAdminUser(_ context.Context, username string) (*store.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Username == username && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRepo) CreateAdminUser(_ context.Context, username, hashedPassword string, email *string) (*store.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Username == username {
			return nil, store.ErrDuplicate
		}
	}
	m.nextID++
	a := &store.AdminUser{
		ID: m.nextID, Username: username, HashedPassword: hashedPassword,
		Email: email, IsActive: true, CreatedAt: time.Now(),
	}
	m.admins = append(m.admins, a)
	return a, nil
}

func (m *memRepo) CountAdminUsers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.admins)), nil
}

func (m *memRepo) UpdateAdminLastLogin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.ID == id {
			now := time.Now()
			a.LastLogin = &now
		}
	}
	return nil
}

func (m *memRepo) ListAPIKeys(_ context.Context, offset, limit int) ([]*store.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.APIKey
	for i := offset; i < len(m.keys) && len(out) < limit; i++ {
		cp := *m.keys[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) CreateAPIKey(_ context.Context, key, userID, tier string, description, createdBy *string, expiresAt *time.Time) (*store.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKeyID++
	k := &store.APIKey{
		ID: m.nextKeyID, Key: key, UserID: userID, Tier: tier, IsActive: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		ExpiresAt: expiresAt, Description: description, CreatedBy: createdBy,
	}
	m.keys = append(m.keys, k)
	return k, nil
}

func (m *memRepo) UpdateAPIKey(_ context.Context, id int64, tier *string, isActive *bool, description *string) (*store.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			if tier != nil {
				k.Tier = *tier
			}
			if isActive != nil {
				k.IsActive = *isActive
			}
			if description != nil {
				k.Description = description
			}
			k.UpdatedAt = time.Now()
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRepo) SoftDeleteAPIKey(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			k.IsActive = false
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memRepo) UsageStats(_ context.Context, userID string, days int) ([]*store.UsageStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.UsageStat, len(m.stats))
	for i, st := range m.stats {
		cp := *st
		out[i] = &cp
	}
	return out, nil
}

func newService(t *testing.T) (*admin.Service, *memRepo) {
	t.Helper()
	repo := &memRepo{}
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := repo.CreateAdminUser(context.Background(), "root", string(hash), nil); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return &admin.Service{
		Repo:   repo,
		Signer: admintoken.NewSigner("test-secret-at-least-32-characters!!", time.Hour),
	}, repo
}

func login(t *testing.T, svc *admin.Service, username, password string) string {
	t.Helper()
	rr := testutil.PostJSON(t, svc.HandleLogin(), "/api/login",
		map[string]string{"username": username, "password": password})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	testutil.DecodeJSON(t, rr, &resp)
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", resp.TokenType)
	}
	return resp.AccessToken
}

func TestLoginRoundTrip(t *testing.T) {
	svc, repo := newService(t)

	token := login(t, svc, "root", "s3cret")
	if token == "" {
		t.Fatal("empty access token")
	}
	if repo.admins[0].LastLogin == nil {
		t.Error("last login not recorded")
	}

	// The token opens a protected endpoint.
	rr := testutil.GetJSONWithAuth(t, svc.HandleUsage(), "/api/usage", token)
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestLoginRejections(t *testing.T) {
	svc, _ := newService(t)

	cases := []struct {
		name, username, password string
	}{
		{"wrong password", "root", "nope"},
		{"unknown user", "ghost", "s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := testutil.PostJSON(t, svc.HandleLogin(), "/api/login",
				map[string]string{"username": tc.username, "password": tc.password})
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), "Incorrect username or password") {
				t.Errorf("body = %s", rr.Body.String())
			}
		})
	}
}

func TestRequireAdminRejections(t *testing.T) {
	svc, repo := newService(t)
	token := login(t, svc, "root", "s3cret")

	if rr := testutil.GetJSON(t, svc.HandleKeys(), "/api/keys"); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rr.Code)
	}
	if rr := testutil.GetJSONWithAuth(t, svc.HandleKeys(), "/api/keys", "not.a.jwt"); rr.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rr.Code)
	}

	// Tokens issued by a different secret fail verification.
	other := admintoken.NewSigner("another-secret-also-32-characters!!!", time.Hour)
	forged, _ := other.Mint("root")
	if rr := testutil.GetJSONWithAuth(t, svc.HandleKeys(), "/api/keys", forged); rr.Code != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", rr.Code)
	}

	// A deactivated principal loses access even with a live token.
	repo.mu.Lock()
	repo.admins[0].IsActive = false
	repo.mu.Unlock()
	if rr := testutil.GetJSONWithAuth(t, svc.HandleKeys(), "/api/keys", token); rr.Code != http.StatusUnauthorized {
		t.Errorf("deactivated principal status = %d, want 401", rr.Code)
	}
}

func TestKeyCRUD(t *testing.T) {
	svc, _ := newService(t)
	token := login(t, svc, "root", "s3cret")

	// Create with defaults.
	rr := testutil.Do(t, svc.HandleKeys(), http.MethodPost, "/api/keys", "Bearer "+token,
		`{"user_id": "team-a"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID   int64  `json:"id"`
		Key  string `json:"key"`
		Tier string `json:"tier"`
	}
	testutil.DecodeJSON(t, rr, &created)
	if !strings.HasPrefix(created.Key, "sk-internal-") {
		t.Errorf("key = %q, want sk-internal- prefix", created.Key)
	}
	if created.Tier != "standard" {
		t.Errorf("default tier = %q, want standard", created.Tier)
	}

	// Invalid tier is rejected up front.
	rr = testutil.Do(t, svc.HandleKeys(), http.MethodPost, "/api/keys", "Bearer "+token,
		`{"user_id": "team-a", "tier": "platinum"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid tier status = %d, want 400", rr.Code)
	}

	// List sees the credential.
	rr = testutil.GetJSONWithAuth(t, svc.HandleKeys(), "/api/keys", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var listed []json.RawMessage
	testutil.DecodeJSON(t, rr, &listed)
	if len(listed) != 1 {
		t.Errorf("listed %d keys, want 1", len(listed))
	}

	// Update tier and deactivate.
	rr = testutil.Do(t, svc.HandleKeyByID(), http.MethodPut, "/api/keys/1", "Bearer "+token,
		`{"tier": "premium", "is_active": false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		Tier     string `json:"tier"`
		IsActive bool   `json:"is_active"`
	}
	testutil.DecodeJSON(t, rr, &updated)
	if updated.Tier != "premium" || updated.IsActive {
		t.Errorf("updated = %+v", updated)
	}

	// Delete, then 404 on the same id path for updates.
	rr = testutil.Do(t, svc.HandleKeyByID(), http.MethodDelete, "/api/keys/1", "Bearer "+token, "")
	testutil.AssertStatus(t, rr, http.StatusOK)
	rr = testutil.Do(t, svc.HandleKeyByID(), http.MethodPut, "/api/keys/999", "Bearer "+token,
		`{"tier": "free"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("update missing key status = %d, want 404", rr.Code)
	}
}

func TestUsageQuery(t *testing.T) {
	svc, repo := newService(t)
	token := login(t, svc, "root", "s3cret")

	repo.stats = []*store.UsageStat{
		{Date: "2026-08-23", Requests: 12, TotalTokens: 480, PromptTokens: 200, CompletionTokens: 280},
	}

	rr := testutil.GetJSONWithAuth(t, svc.HandleUsage(), "/api/usage?user_id=team-a&days=7", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var out []struct {
		Date     string `json:"date"`
		Requests int64  `json:"requests"`
	}
	testutil.DecodeJSON(t, rr, &out)
	if len(out) != 1 || out[0].Requests != 12 {
		t.Errorf("usage = %+v", out)
	}
}

func TestBootstrap(t *testing.T) {
	repo := &memRepo{}

	if err := admin.Bootstrap(context.Background(), repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	seeded, err := repo.GetAdminUser(context.Background(), "admin")
	if err != nil {
		t.Fatalf("default admin missing: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(seeded.HashedPassword), []byte("admin123")) != nil {
		t.Error("default password does not verify")
	}

	// Idempotent once a principal exists.
	if err := admin.Bootstrap(context.Background(), repo); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if n, _ := repo.CountAdminUsers(context.Background()); n != 1 {
		t.Errorf("admin count = %d, want 1", n)
	}
}

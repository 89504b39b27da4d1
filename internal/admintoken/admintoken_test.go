package admintoken_test

import (
	"strings"
	"testing"
	"time"

	"github.com/llmgate/llmgate/internal/admintoken"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMintAndVerify(t *testing.T) {
	s := admintoken.NewSigner(testSecret, time.Hour)

	token, err := s.Mint("admin")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not a JWT", token)
	}

	username, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if username != "admin" {
		t.Errorf("subject = %q, want admin", username)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := admintoken.NewSigner(testSecret, time.Hour).Mint("admin")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	other := admintoken.NewSigner("ffffffffffffffffffffffffffffffff", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := admintoken.NewSigner(testSecret, -time.Minute)
	token, err := s.Mint("admin")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := admintoken.NewSigner(testSecret, time.Hour)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := s.Verify(tok); err == nil {
			t.Errorf("Verify(%q) succeeded, want error", tok)
		}
	}
}

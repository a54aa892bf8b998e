package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/servihub/servihub/libs/auth"
)

func TestRotatingSignerSignAndVerify(t *testing.T) {
	keyA, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	keyB, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	signer, err := NewRotatingRS256Signer(map[string]*rsa.PrivateKey{
		"kid-a": keyA,
		"kid-b": keyB,
	}, "kid-a")
	if err != nil {
		t.Fatalf("NewRotatingRS256Signer failed: %v", err)
	}

	claims := auth.Claims{
		Sub:  "acct-1",
		Role: "customer",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.Sub != claims.Sub || got.Role != claims.Role {
		t.Fatalf("unexpected claims: %+v", got)
	}

	if len(signer.JWKS()) != 2 {
		t.Fatalf("expected 2 published keys, got %d", len(signer.JWKS()))
	}

	// Tokens signed before a rotation must stay verifiable.
	if err := signer.SetActiveKid("kid-b"); err != nil {
		t.Fatalf("SetActiveKid failed: %v", err)
	}
	if _, err := signer.Verify(token); err != nil {
		t.Fatalf("Verify after rotation failed: %v", err)
	}

	if err := signer.SetActiveKid("kid-missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

package handlers

import (
	"testing"

	"github.com/servihub/servihub/libs/auth"
	"github.com/servihub/servihub/services/identity-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestIssueJWTCarriesProviderID(t *testing.T) {
	signer := NewHS256Signer("test-secret")

	token, err := issueJWT(storage.Account{
		ID:         "acct-1",
		Role:       "provider",
		ProviderID: "prov-1",
	}, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}

	claims, err := auth.ParseAndVerifyHS256(token, "test-secret")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Sub != "acct-1" || claims.Role != "provider" || claims.ProviderID != "prov-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	customerToken, err := issueJWT(storage.Account{ID: "acct-2", Role: "customer"}, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}
	customerClaims, err := auth.ParseAndVerifyHS256(customerToken, "test-secret")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if customerClaims.ProviderID != "" {
		t.Fatalf("customer token should not carry provider_id: %+v", customerClaims)
	}
}

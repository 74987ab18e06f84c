package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignTokenCarriesSubjectAndIssuer(t *testing.T) {
	now := time.Now()
	signed, err := signToken("key", "tenant-1", "rental-service", time.Hour, now)
	if err != nil {
		t.Fatalf("signToken returned error: %v", err)
	}

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("key"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("rental-service"))
	if err != nil || !token.Valid {
		t.Fatalf("token did not validate: %v", err)
	}
	subject, _ := token.Claims.GetSubject()
	if subject != "tenant-1" {
		t.Fatalf("expected subject tenant-1, got %q", subject)
	}
}

func TestTokenCmdRequiresAccount(t *testing.T) {
	cmd := TokenCmd()
	cmd.SetArgs([]string{"--signing-key", "key"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--account") {
		t.Fatalf("expected missing account error, got %v", err)
	}
}

func TestTokenCmdPrintsToken(t *testing.T) {
	cmd := TokenCmd()
	var out bytes.Buffer
	cmd.SetArgs([]string{"--account", "owner", "--signing-key", "key"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command returned error: %v", err)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", out.String())
	}
}

func TestParseAmount(t *testing.T) {
	if amount, err := parseAmount("1500"); err != nil || amount != 1500 {
		t.Fatalf("expected 1500, got %d (%v)", amount, err)
	}
	if _, err := parseAmount("15.00"); err == nil {
		t.Fatal("expected decimal amount to be rejected")
	}
}

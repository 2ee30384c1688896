package auth

import (
	"strings"
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc123")
	if err != nil {
		t.Fatalf("Failed to extract token: %v", err)
	}
	if token != "abc123" {
		t.Errorf("Expected abc123, got %s", token)
	}

	if _, err := ExtractToken(""); err == nil {
		t.Error("Expected error for empty header")
	}
	if _, err := ExtractToken("abc123"); err == nil {
		t.Error("Expected error for missing Bearer prefix")
	}
	if _, err := ExtractToken("Basic abc123"); err == nil {
		t.Error("Expected error for non-Bearer scheme")
	}

	// Case-insensitive scheme
	token, err = ExtractToken("bearer xyz")
	if err != nil {
		t.Fatalf("Failed to extract lowercase bearer token: %v", err)
	}
	if token != "xyz" {
		t.Errorf("Expected xyz, got %s", token)
	}
}

func TestDeviceTokenRoundTrip(t *testing.T) {
	auth, err := NewDeviceJWTAuth("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create auth: %v", err)
	}

	token, err := auth.GenerateToken("device-1", "Alex's iPhone")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	device, err := auth.VerifyToken(token)
	if err != nil {
		t.Fatalf("Failed to verify token: %v", err)
	}
	if device.ID != "device-1" {
		t.Errorf("Expected device-1, got %s", device.ID)
	}
	if device.Name != "Alex's iPhone" {
		t.Errorf("Expected device name preserved, got %s", device.Name)
	}
}

func TestDeviceTokenRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewDeviceJWTAuth("secret-a", time.Hour)
	verifier, _ := NewDeviceJWTAuth("secret-b", time.Hour)

	token, err := issuer.GenerateToken("device-1", "iPhone")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := verifier.VerifyToken(token); err == nil {
		t.Error("Expected verification to fail with a different secret")
	}
}

func TestDeviceTokenRejectsExpired(t *testing.T) {
	auth, _ := NewDeviceJWTAuth("test-secret", time.Hour)
	auth.TokenExpiry = -time.Minute

	token, err := auth.GenerateToken("device-1", "iPhone")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := auth.VerifyToken(token); err == nil {
		t.Error("Expected verification of an expired token to fail")
	}
}

func TestNewDeviceJWTAuthRequiresSecret(t *testing.T) {
	if _, err := NewDeviceJWTAuth("", time.Hour); err == nil {
		t.Error("Expected error for empty secret")
	}

	auth, err := NewDeviceJWTAuth("secret", 0)
	if err != nil {
		t.Fatalf("Failed to create auth: %v", err)
	}
	if auth.TokenExpiry != 30*24*time.Hour {
		t.Errorf("Expected 30 day default expiry, got %v", auth.TokenExpiry)
	}
}

func TestPairingCodeHashRoundTrip(t *testing.T) {
	hash, err := HashPairingCode("123456")
	if err != nil {
		t.Fatalf("Failed to hash pairing code: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Errorf("Expected argon2id prefix, got %s", hash)
	}

	ok, err := VerifyPairingCode(hash, "123456")
	if err != nil {
		t.Fatalf("Failed to verify pairing code: %v", err)
	}
	if !ok {
		t.Error("Expected correct code to verify")
	}

	ok, err = VerifyPairingCode(hash, "654321")
	if err != nil {
		t.Fatalf("Failed to verify pairing code: %v", err)
	}
	if ok {
		t.Error("Expected wrong code to fail verification")
	}
}

func TestPairingCodeHashesAreSalted(t *testing.T) {
	hash1, err := HashPairingCode("123456")
	if err != nil {
		t.Fatalf("Failed to hash pairing code: %v", err)
	}
	hash2, err := HashPairingCode("123456")
	if err != nil {
		t.Fatalf("Failed to hash pairing code: %v", err)
	}
	if hash1 == hash2 {
		t.Error("Expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyPairingCodeRejectsMalformedHash(t *testing.T) {
	if _, err := VerifyPairingCode("plaintext", "code"); err == nil {
		t.Error("Expected error for missing prefix")
	}
	if _, err := VerifyPairingCode("argon2id$onlyonepart", "code"); err == nil {
		t.Error("Expected error for missing hash part")
	}
	if _, err := VerifyPairingCode("argon2id$!!!$???", "code"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

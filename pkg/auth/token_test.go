package auth

import (
	"encoding/base64"
	"testing"
)

func TestTokenGenerator_Generate(t *testing.T) {
	tg := NewTokenGenerator()

	raw, salt, tokenHash, lookupHash, err := tg.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(raw) != 43 {
		t.Errorf("raw token length = %d, want 43", len(raw))
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw token is not base64url: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("decoded token = %d bytes, want 32", len(decoded))
	}

	// Hex-encoded SHA-256 sized hashes
	if len(tokenHash) != 64 {
		t.Errorf("tokenHash length = %d, want 64", len(tokenHash))
	}
	if len(lookupHash) != 64 {
		t.Errorf("lookupHash length = %d, want 64", len(lookupHash))
	}
	if len(salt) != 32 {
		t.Errorf("salt length = %d, want 32", len(salt))
	}

	if tokenHash != HashWithSalt(raw, salt) {
		t.Error("tokenHash does not recompute from raw and salt")
	}
	if lookupHash != LookupHash(raw) {
		t.Error("lookupHash does not recompute from raw")
	}
}

func TestTokenGenerator_Generate_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	raws := make(map[string]bool)
	lookups := make(map[string]bool)

	for i := 0; i < 10000; i++ {
		raw, _, _, lookupHash, err := tg.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if raws[raw] {
			t.Fatalf("duplicate raw token after %d generations", i)
		}
		if lookups[lookupHash] {
			t.Fatalf("duplicate lookup hash after %d generations", i)
		}
		raws[raw] = true
		lookups[lookupHash] = true
	}
}

func TestHashWithSalt_SaltDependence(t *testing.T) {
	raw := "kJc9X1hUqvO2fMmQeW7RzN0pLsTaYbDgEuVwAxIhC3o"

	h1 := HashWithSalt(raw, "aaaaaaaaaaaaaaaa")
	h2 := HashWithSalt(raw, "bbbbbbbbbbbbbbbb")
	if h1 == h2 {
		t.Error("same token with different salts produced identical hashes")
	}
	if h1 != HashWithSalt(raw, "aaaaaaaaaaaaaaaa") {
		t.Error("hash is not deterministic for fixed salt")
	}
}

func TestVerifyTokenHash(t *testing.T) {
	tg := NewTokenGenerator()
	raw, salt, tokenHash, lookupHash, err := tg.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	record := &TokenRecord{Salt: salt, TokenHash: tokenHash, LookupHash: lookupHash}
	if !VerifyTokenHash(raw, record) {
		t.Error("valid token failed hash verification")
	}

	other, _, _, _, err := tg.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if VerifyTokenHash(other, record) {
		t.Error("different token passed hash verification")
	}
}

func TestValidTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()
	raw, _, _, _, err := tg.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"issued token", raw, true},
		{"empty", "", false},
		{"too short", raw[:42], false},
		{"too long", raw + "A", false},
		{"padding", raw[:41] + "==", false},
		{"invalid chars", "!@#$%^&*()!@#$%^&*()!@#$%^&*()!@#$%^&*()!@#", false},
		{"standard base64 chars", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNO+/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTokenFormat(tt.token); got != tt.want {
				t.Errorf("ValidTokenFormat(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

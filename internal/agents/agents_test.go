package agents

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	fullKey, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(fullKey, "ak_") {
		t.Fatalf("key missing ak_ prefix: %q", fullKey)
	}
	if len(fullKey) != 3+64 {
		t.Fatalf("unexpected key length %d", len(fullKey))
	}
	if prefix != fullKey[:8] {
		t.Fatalf("prefix %q is not the first 8 characters of %q", prefix, fullKey)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(fullKey)); err != nil {
		t.Fatalf("hash does not verify against the key: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(fullKey+"x")); err == nil {
		t.Fatal("hash verified against a wrong key")
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	k1, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Fatal("two generated keys collided")
	}
}

package core

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("pw123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "pw123" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("unexpected hash %q", hash)
	}
	if !h.Compare(hash, "pw123") {
		t.Fatal("matching password rejected")
	}
	if h.Compare(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}

	again, err := h.Hash("pw123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == hash {
		t.Fatal("hashes of the same password must be salted differently")
	}
}

func TestPasswordHasherLimits(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	if _, err := h.Hash(strings.Repeat("x", maxPasswordBytes+1)); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.CompareDummy("anything") {
		t.Fatal("CompareDummy must always report false")
	}
}

package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword with right password: %v", err)
	}
	if err := VerifyPassword(hash, "other"); err == nil {
		t.Fatal("VerifyPassword must fail on a wrong password")
	}
}

func TestPassword_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password must be rejected")
	}
	if err := VerifyPassword("", "x"); err == nil {
		t.Fatal("empty hash must be rejected")
	}
}

func TestBurnPasswordCheck_DoesNotPanic(t *testing.T) {
	t.Parallel()

	BurnPasswordCheck("anything")
	BurnPasswordCheck("")
}

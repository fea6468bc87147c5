package security

import (
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))

	token, exp, err := Generate(opts, 7, "consultant", 3)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= 0 {
		t.Fatal("token already expired")
	}

	claims, err := Verify(opts, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 7 || claims.Role != "consultant" || claims.HospitalID != 3 {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("right")), 7, "admin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions([]byte("wrong")), token); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.TTL = time.Millisecond
	token, _, err := Generate(opts, 7, "admin", 0)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := Verify(opts, token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.Alg = "RS256"
	if _, _, err := Generate(opts, 7, "admin", 0); err == nil {
		t.Fatal("expected unsupported alg error")
	}
}

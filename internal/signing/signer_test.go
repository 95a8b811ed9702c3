package signing

import (
	"errors"
	"testing"
	"time"
)

const (
	testSecret = "tabvault-test-secret"
	testEmail  = "user@example.com"
	testNonce  = "f81d4fae-7dec-11d0-a765-00a0c91e6bf6"
	testAuthAt = int64(1756000000)
)

func TestComputeMatchesKnownVectors(t *testing.T) {
	vectors := []struct {
		purpose  Purpose
		expected string
	}{
		{PurposeLogin, "1f46730bb53bcba2dacc059c86cec820906c6b85a3608745ed5afc9134081072"},
		{PurposeRegister, "578daf0c6507d799766105410d7214a4e55a0be71904345a89d734e0b2dc2711"},
	}
	for _, vector := range vectors {
		got := Compute([]byte(testSecret), testEmail, testNonce, testAuthAt, vector.purpose)
		if got != vector.expected {
			t.Fatalf("unexpected %s digest: %s", vector.purpose, got)
		}
	}
}

func TestSignProducesFreshEnvelopePerCall(t *testing.T) {
	signer, err := NewSigner(SignerConfig{
		Secret: []byte(testSecret),
		Clock:  func() time.Time { return time.Unix(testAuthAt, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}

	first, err := signer.Sign(testEmail, PurposeLogin)
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}
	second, err := signer.Sign(testEmail, PurposeLogin)
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}

	if first.Nonce == second.Nonce {
		t.Fatalf("expected distinct nonces, both were %s", first.Nonce)
	}
	// Same second, same inputs: only the nonce differs, and it alone must
	// change the signature.
	if first.AuthAt != second.AuthAt {
		t.Fatalf("expected identical timestamps under a fixed clock")
	}
	if first.Signature == second.Signature {
		t.Fatalf("expected distinct signatures")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner(SignerConfig{Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}

	envelope, err := signer.Sign(testEmail, PurposeResetPassword)
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}
	if !signer.Verify(testEmail, envelope.Nonce, envelope.AuthAt, PurposeResetPassword, envelope.Signature) {
		t.Fatalf("expected signature to verify")
	}
	if signer.Verify(testEmail, envelope.Nonce, envelope.AuthAt, PurposeLogin, envelope.Signature) {
		t.Fatalf("expected purpose mismatch to fail verification")
	}
	if signer.Verify(testEmail, envelope.Nonce, envelope.AuthAt+1, PurposeResetPassword, envelope.Signature) {
		t.Fatalf("expected timestamp mismatch to fail verification")
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner(SignerConfig{}); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestTimestampWithin(t *testing.T) {
	now := time.Unix(1756000000, 0)
	window := 5 * time.Minute

	if !TimestampWithin(now.Unix(), now, window) {
		t.Fatalf("expected exact timestamp to be within window")
	}
	if !TimestampWithin(now.Unix()-300, now, window) {
		t.Fatalf("expected boundary timestamp to be within window")
	}
	if TimestampWithin(now.Unix()-301, now, window) {
		t.Fatalf("expected stale timestamp to be outside window")
	}
	if TimestampWithin(now.Unix()+301, now, window) {
		t.Fatalf("expected future timestamp to be outside window")
	}
}

func TestParsePurpose(t *testing.T) {
	if purpose, err := ParsePurpose(" Login "); err != nil || purpose != PurposeLogin {
		t.Fatalf("expected login, got %q err %v", purpose, err)
	}
	if _, err := ParsePurpose("sensitive_op"); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

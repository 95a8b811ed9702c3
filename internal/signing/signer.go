package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingSecret indicates that a signer was constructed without a secret.
	ErrMissingSecret = errors.New("signing: secret is required")
	// ErrInvalidPurpose indicates an unrecognized signing purpose.
	ErrInvalidPurpose = errors.New("signing: invalid purpose")
)

// Purpose names the operation a signed request authorizes.
type Purpose string

const (
	// PurposeRegister signs account registration requests.
	PurposeRegister Purpose = "register"
	// PurposeLogin signs login requests.
	PurposeLogin Purpose = "login"
	// PurposeResetPassword signs password reset requests.
	PurposeResetPassword Purpose = "reset_password"
)

// ParsePurpose validates raw input and returns a Purpose.
func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(strings.ToLower(strings.TrimSpace(raw))) {
	case PurposeRegister:
		return PurposeRegister, nil
	case PurposeLogin:
		return PurposeLogin, nil
	case PurposeResetPassword:
		return PurposeResetPassword, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, raw)
	}
}

// Envelope carries the replay-protection fields attached to a signed
// request alongside its plaintext payload.
type Envelope struct {
	Nonce     string
	AuthAt    int64
	Signature string
}

// SignerConfig configures a Signer.
type SignerConfig struct {
	Secret      []byte
	Clock       func() time.Time
	NonceSource func() (string, error)
}

// Signer produces keyed-hash signatures binding a request to a timestamp
// and a one-time nonce. The remote service recomputes the signature to
// reject stale or replayed requests; nothing is checked locally.
type Signer struct {
	secret []byte
	clock  func() time.Time
	nonce  func() (string, error)
}

// NewSigner constructs a Signer from its configuration.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	nonce := cfg.NonceSource
	if nonce == nil {
		nonce = randomNonce
	}
	return &Signer{secret: cfg.Secret, clock: clock, nonce: nonce}, nil
}

// Sign generates a fresh nonce and timestamp and signs the canonical string
// "email:nonce:authAt:purpose" with HMAC-SHA256. Every call produces a new
// envelope; envelopes must never be cached or reused across requests.
func (s *Signer) Sign(email string, purpose Purpose) (Envelope, error) {
	nonce, err := s.nonce()
	if err != nil {
		return Envelope{}, err
	}
	authAt := s.clock().Unix()
	return Envelope{
		Nonce:     nonce,
		AuthAt:    authAt,
		Signature: Compute(s.secret, email, nonce, authAt, purpose),
	}, nil
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(email, nonce string, authAt int64, purpose Purpose, signature string) bool {
	expected := Compute(s.secret, email, nonce, authAt, purpose)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Compute returns the hex HMAC-SHA256 digest of the canonical string under
// the shared secret.
func Compute(secret []byte, email, nonce string, authAt int64, purpose Purpose) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s:%s:%d:%s", email, nonce, authAt, purpose)
	return hex.EncodeToString(mac.Sum(nil))
}

// TimestampWithin reports whether authAt lies within window of now, in
// either direction. The remote service applies this rule; the local copy
// exists for its in-process stand-in.
func TimestampWithin(authAt int64, now time.Time, window time.Duration) bool {
	diff := now.Unix() - authAt
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(window.Seconds())
}

func randomNonce() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the advisory view of an access token's payload.
type TokenClaims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// AccessTokenClaims decodes the access token without verifying its
// signature. The remote service is the only party that can verify it; this
// helper only surfaces the payload for display. The persisted expiry
// remains the sole gate on authenticated calls.
func AccessTokenClaims(token string) (TokenClaims, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, err
	}
	result := TokenClaims{Subject: claims.Subject, Issuer: claims.Issuer}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

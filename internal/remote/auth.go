package remote

import (
	"context"
	"net/http"

	"github.com/tabvault/tabvault/internal/session"
	"github.com/tabvault/tabvault/internal/signing"
)

// TokenResponse is the payload returned by login and register.
type TokenResponse struct {
	User        session.User `json:"user"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
}

type sendCodeRequest struct {
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Nonce     string `json:"nonce"`
	AuthAt    int64  `json:"auth_at"`
	Signature string `json:"signature"`
}

type loginByCodeRequest struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	Nonce     string `json:"nonce"`
	AuthAt    int64  `json:"auth_at"`
	Signature string `json:"signature"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	Password  string `json:"password"`
	Nonce     string `json:"nonce"`
	AuthAt    int64  `json:"auth_at"`
	Signature string `json:"signature"`
}

type loginByPasswordRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Nonce     string `json:"nonce"`
	AuthAt    int64  `json:"auth_at"`
	Signature string `json:"signature"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
	Nonce       string `json:"nonce"`
	AuthAt      int64  `json:"auth_at"`
	Signature   string `json:"signature"`
}

// SendVerificationCode requests a one-time code for email under purpose.
func (c *Client) SendVerificationCode(ctx context.Context, email string, purpose signing.Purpose) error {
	envelope, err := c.sign(email, purpose)
	if err != nil {
		return err
	}
	body := sendCodeRequest{
		Email:     email,
		Purpose:   string(purpose),
		Nonce:     envelope.Nonce,
		AuthAt:    envelope.AuthAt,
		Signature: envelope.Signature,
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/verification-code/send", body, nil, false)
}

// LoginWithCode exchanges a verification code for a token response.
func (c *Client) LoginWithCode(ctx context.Context, email, code string) (TokenResponse, error) {
	envelope, err := c.sign(email, signing.PurposeLogin)
	if err != nil {
		return TokenResponse{}, err
	}
	body := loginByCodeRequest{
		Email:     email,
		Code:      code,
		Nonce:     envelope.Nonce,
		AuthAt:    envelope.AuthAt,
		Signature: envelope.Signature,
	}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/login/verification-code", body, &out, false); err != nil {
		return TokenResponse{}, err
	}
	return out, nil
}

// Register creates an account from a verification code and password.
func (c *Client) Register(ctx context.Context, email, code, password string) (TokenResponse, error) {
	envelope, err := c.sign(email, signing.PurposeRegister)
	if err != nil {
		return TokenResponse{}, err
	}
	body := registerRequest{
		Email:     email,
		Code:      code,
		Password:  password,
		Nonce:     envelope.Nonce,
		AuthAt:    envelope.AuthAt,
		Signature: envelope.Signature,
	}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/register", body, &out, false); err != nil {
		return TokenResponse{}, err
	}
	return out, nil
}

// LoginWithPassword authenticates with a stored password.
func (c *Client) LoginWithPassword(ctx context.Context, email, password string) (TokenResponse, error) {
	envelope, err := c.sign(email, signing.PurposeLogin)
	if err != nil {
		return TokenResponse{}, err
	}
	body := loginByPasswordRequest{
		Email:     email,
		Password:  password,
		Nonce:     envelope.Nonce,
		AuthAt:    envelope.AuthAt,
		Signature: envelope.Signature,
	}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/login/password", body, &out, false); err != nil {
		return TokenResponse{}, err
	}
	return out, nil
}

// ResetPassword replaces the account password using a verification code.
func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	envelope, err := c.sign(email, signing.PurposeResetPassword)
	if err != nil {
		return err
	}
	body := resetPasswordRequest{
		Email:       email,
		Code:        code,
		NewPassword: newPassword,
		Nonce:       envelope.Nonce,
		AuthAt:      envelope.AuthAt,
		Signature:   envelope.Signature,
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/password/reset", body, nil, false)
}

// sign produces a fresh envelope for one request. Envelopes are never
// reused across calls.
func (c *Client) sign(email string, purpose signing.Purpose) (signing.Envelope, error) {
	if c.signer == nil {
		return signing.Envelope{}, errMissingSigner
	}
	return c.signer.Sign(email, purpose)
}

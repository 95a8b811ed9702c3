package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tabvault/tabvault/internal/library"
	"github.com/tabvault/tabvault/internal/remote/remotetest"
	"github.com/tabvault/tabvault/internal/signing"
)

const flowTestSecret = "flow-test-secret"

func newFakeRemote(t *testing.T) (*remotetest.Server, *httptest.Server) {
	t.Helper()
	fake, err := remotetest.New(remotetest.Config{SigningSecret: []byte(flowTestSecret)})
	if err != nil {
		t.Fatalf("unexpected fake remote error: %v", err)
	}
	server := httptest.NewServer(fake.Handler())
	t.Cleanup(server.Close)
	return fake, server
}

func newFlowClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	signer, err := signing.NewSigner(signing.SignerConfig{Secret: []byte(flowTestSecret)})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}
	return mustClient(t, ClientConfig{BaseURL: baseURL, Signer: signer})
}

func TestLoginWithCodeFlow(t *testing.T) {
	fake, server := newFakeRemote(t)
	client := newFlowClient(t, server.URL)
	ctx := context.Background()

	if err := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeLogin); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}
	code := fake.LastCode("user@example.com", signing.PurposeLogin)
	if code == "" {
		t.Fatalf("expected a verification code to be issued")
	}

	response, err := client.LoginWithCode(ctx, "user@example.com", code)
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if response.AccessToken == "" || response.ExpiresIn <= 0 {
		t.Fatalf("unexpected token response: %#v", response)
	}
	if response.User.Email != "user@example.com" {
		t.Fatalf("unexpected user: %#v", response.User)
	}
}

func TestRegisterThenLoginWithPassword(t *testing.T) {
	fake, server := newFakeRemote(t)
	client := newFlowClient(t, server.URL)
	ctx := context.Background()

	if err := client.SendVerificationCode(ctx, "new@example.com", signing.PurposeRegister); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}
	code := fake.LastCode("new@example.com", signing.PurposeRegister)

	registered, err := client.Register(ctx, "new@example.com", code, "hunter2")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if registered.User.UID == "" {
		t.Fatalf("expected a user identifier, got %#v", registered.User)
	}

	loggedIn, err := client.LoginWithPassword(ctx, "new@example.com", "hunter2")
	if err != nil {
		t.Fatalf("unexpected password login error: %v", err)
	}
	if loggedIn.User.UID != registered.User.UID {
		t.Fatalf("expected the same account, got %#v", loggedIn.User)
	}

	if _, err := client.LoginWithPassword(ctx, "new@example.com", "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestResetPasswordFlow(t *testing.T) {
	fake, server := newFakeRemote(t)
	client := newFlowClient(t, server.URL)
	ctx := context.Background()

	if err := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeRegister); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}
	if _, err := client.Register(ctx, "user@example.com", fake.LastCode("user@example.com", signing.PurposeRegister), "old-pass"); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if err := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeResetPassword); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}
	code := fake.LastCode("user@example.com", signing.PurposeResetPassword)
	if err := client.ResetPassword(ctx, "user@example.com", code, "new-pass"); err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}

	if _, err := client.LoginWithPassword(ctx, "user@example.com", "new-pass"); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}

func TestWrongCodeRejected(t *testing.T) {
	_, server := newFakeRemote(t)
	client := newFlowClient(t, server.URL)
	ctx := context.Background()

	if err := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeLogin); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}

	_, err := client.LoginWithCode(ctx, "user@example.com", "000000")
	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 rejection, got %v", err)
	}
	if remoteErr.Payload["error"] != "invalid_code" {
		t.Fatalf("unexpected payload: %#v", remoteErr.Payload)
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	_, server := newFakeRemote(t)
	ctx := context.Background()

	// A signer holding a different secret produces envelopes the service
	// cannot recompute.
	wrongSigner, err := signing.NewSigner(signing.SignerConfig{Secret: []byte("not-the-secret")})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}
	client := mustClient(t, ClientConfig{BaseURL: server.URL, Signer: wrongSigner})

	sendErr := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeLogin)
	var remoteErr *Error
	if !errors.As(sendErr, &remoteErr) || remoteErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %v", sendErr)
	}
	if remoteErr.Payload["error"] != "invalid_signature" {
		t.Fatalf("unexpected payload: %#v", remoteErr.Payload)
	}
}

func TestNonceReuseRejected(t *testing.T) {
	_, server := newFakeRemote(t)

	signer, err := signing.NewSigner(signing.SignerConfig{Secret: []byte(flowTestSecret)})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}
	envelope, err := signer.Sign("user@example.com", signing.PurposeLogin)
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}

	payload, err := json.Marshal(map[string]any{
		"email":     "user@example.com",
		"purpose":   "login",
		"nonce":     envelope.Nonce,
		"auth_at":   envelope.AuthAt,
		"signature": envelope.Signature,
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	post := func() *http.Response {
		response, err := http.Post(server.URL+"/auth/v1/verification-code/send", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() {
			_ = response.Body.Close()
		})
		return response
	}

	if first := post(); first.StatusCode != http.StatusOK {
		t.Fatalf("expected first use to succeed, got %d", first.StatusCode)
	}
	replay := post()
	if replay.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", replay.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(replay.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode rejection: %v", err)
	}
	if body["error"] != "nonce_reused" {
		t.Fatalf("unexpected rejection payload: %#v", body)
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	fake, err := remotetest.New(remotetest.Config{
		SigningSecret: []byte(flowTestSecret),
		ReplayWindow:  time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected fake remote error: %v", err)
	}
	server := httptest.NewServer(fake.Handler())
	t.Cleanup(server.Close)

	// The client's clock lags the service's by more than the window.
	staleSigner, err := signing.NewSigner(signing.SignerConfig{
		Secret: []byte(flowTestSecret),
		Clock:  func() time.Time { return time.Now().Add(-2 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("unexpected signer error: %v", err)
	}
	client := mustClient(t, ClientConfig{BaseURL: server.URL, Signer: staleSigner})

	sendErr := client.SendVerificationCode(context.Background(), "user@example.com", signing.PurposeLogin)
	var remoteErr *Error
	if !errors.As(sendErr, &remoteErr) || remoteErr.Payload["error"] != "stale_timestamp" {
		t.Fatalf("expected stale timestamp rejection, got %v", sendErr)
	}
}

func TestSyncCallsRoundTrip(t *testing.T) {
	fake, server := newFakeRemote(t)
	client := newFlowClient(t, server.URL)
	ctx := context.Background()

	if err := client.SendVerificationCode(ctx, "user@example.com", signing.PurposeLogin); err != nil {
		t.Fatalf("unexpected send-code error: %v", err)
	}
	login, err := client.LoginWithCode(ctx, "user@example.com", fake.LastCode("user@example.com", signing.PurposeLogin))
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}

	authed := mustClient(t, ClientConfig{
		BaseURL: server.URL,
		Tokens:  stubTokenSource{token: login.AccessToken},
	})

	created, err := authed.CreateSpace(ctx, library.Space{ID: "s-1", Name: "Work"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.ID != "s-1" {
		t.Fatalf("unexpected created space: %#v", created)
	}
	if _, ok := fake.Space("s-1"); !ok {
		t.Fatalf("expected space to be stored remotely")
	}
	if err := authed.DeleteSpace(ctx, "s-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, ok := fake.Space("s-1"); ok {
		t.Fatalf("expected space to be removed remotely")
	}
}

// Package remotetest hosts an in-process stand-in for the remote service,
// with real signature, replay-window, and nonce checks. It backs the auth
// flow and integration tests; it is not a product server.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tabvault/tabvault/internal/library"
	"github.com/tabvault/tabvault/internal/session"
	"github.com/tabvault/tabvault/internal/signing"
)

const (
	tokenIssuer   = "tabvault-auth"
	tokenAudience = "tabvault-api"

	defaultReplayWindow = 5 * time.Minute
	defaultTokenTTL     = time.Hour
)

// Config configures the fake service.
type Config struct {
	SigningSecret []byte
	TokenSecret   []byte
	Clock         func() time.Time
	ReplayWindow  time.Duration
	TokenTTL      time.Duration
}

type account struct {
	user     session.User
	password string
}

// Server verifies signed auth requests the way the real service does:
// recomputed signature compared in constant time, timestamp bound to a
// replay window, and single-use nonces.
type Server struct {
	mu           sync.Mutex
	signer       *signing.Signer
	tokenSecret  []byte
	clock        func() time.Time
	replayWindow time.Duration
	tokenTTL     time.Duration

	codeSeq    int
	codes      map[string]string
	usedNonces map[string]struct{}
	accounts   map[string]*account

	spaces      map[string]library.Space
	collections map[string]library.Collection
	tabs        map[string]library.Tab
}

// New constructs a Server from its configuration.
func New(cfg Config) (*Server, error) {
	signer, err := signing.NewSigner(signing.SignerConfig{Secret: cfg.SigningSecret, Clock: cfg.Clock})
	if err != nil {
		return nil, err
	}
	tokenSecret := cfg.TokenSecret
	if len(tokenSecret) == 0 {
		tokenSecret = []byte("remotetest-token-secret")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	replayWindow := cfg.ReplayWindow
	if replayWindow <= 0 {
		replayWindow = defaultReplayWindow
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Server{
		signer:       signer,
		tokenSecret:  tokenSecret,
		clock:        clock,
		replayWindow: replayWindow,
		tokenTTL:     tokenTTL,
		codes:        make(map[string]string),
		usedNonces:   make(map[string]struct{}),
		accounts:     make(map[string]*account),
		spaces:       make(map[string]library.Space),
		collections:  make(map[string]library.Collection),
		tabs:         make(map[string]library.Tab),
	}, nil
}

// Handler returns the HTTP surface of the fake service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/verification-code/send", s.handleSendCode)
	mux.HandleFunc("POST /auth/v1/login/verification-code", s.handleLoginByCode)
	mux.HandleFunc("POST /auth/v1/register", s.handleRegister)
	mux.HandleFunc("POST /auth/v1/login/password", s.handleLoginByPassword)
	mux.HandleFunc("POST /auth/v1/password/reset", s.handleResetPassword)

	mux.HandleFunc("GET /api/v1/spaces", s.protect(s.handleListSpaces))
	mux.HandleFunc("POST /api/v1/spaces", s.protect(s.handleUpsertSpace))
	mux.HandleFunc("PUT /api/v1/spaces/{id}", s.protect(s.handleUpsertSpace))
	mux.HandleFunc("DELETE /api/v1/spaces/{id}", s.protect(s.handleDeleteSpace))
	mux.HandleFunc("GET /api/v1/spaces/{id}/collections", s.protect(s.handleListCollections))
	mux.HandleFunc("POST /api/v1/spaces/{id}/collections", s.protect(s.handleUpsertCollection))
	mux.HandleFunc("PUT /api/v1/collections/{id}", s.protect(s.handleUpsertCollection))
	mux.HandleFunc("DELETE /api/v1/collections/{id}", s.protect(s.handleDeleteCollection))
	mux.HandleFunc("GET /api/v1/collections/{id}/tabs", s.protect(s.handleListTabs))
	mux.HandleFunc("POST /api/v1/collections/{id}/tabs", s.protect(s.handleUpsertTab))
	mux.HandleFunc("PUT /api/v1/tabs/{id}", s.protect(s.handleUpsertTab))
	mux.HandleFunc("DELETE /api/v1/tabs/{id}", s.protect(s.handleDeleteTab))
	mux.HandleFunc("POST /api/v1/tabs/batch", s.protect(s.handleBatchTabs))
	return mux
}

// LastCode returns the most recent verification code issued to email under
// purpose, or "" when none was issued.
func (s *Server) LastCode(email string, purpose signing.Purpose) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[codeKey(email, purpose)]
}

// Space returns a stored space record for assertions.
func (s *Server) Space(id string) (library.Space, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	space, ok := s.spaces[id]
	return space, ok
}

// Tab returns a stored tab record for assertions.
func (s *Server) Tab(id string) (library.Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[id]
	return tab, ok
}

type signedFields struct {
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Code      string `json:"code"`
	Password  string `json:"password"`
	NewPass   string `json:"new_password"`
	Nonce     string `json:"nonce"`
	AuthAt    int64  `json:"auth_at"`
	Signature string `json:"signature"`
}

// verifyEnvelope enforces the replay-protection rules. Callers hold the mutex.
func (s *Server) verifyEnvelope(w http.ResponseWriter, fields signedFields, purpose signing.Purpose) bool {
	if !signing.TimestampWithin(fields.AuthAt, s.clock(), s.replayWindow) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "stale_timestamp"})
		return false
	}
	if _, used := s.usedNonces[fields.Nonce]; used || fields.Nonce == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "nonce_reused"})
		return false
	}
	if !s.signer.Verify(fields.Email, fields.Nonce, fields.AuthAt, purpose, fields.Signature) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_signature"})
		return false
	}
	s.usedNonces[fields.Nonce] = struct{}{}
	return true
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var fields signedFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	purpose, err := signing.ParsePurpose(fields.Purpose)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_purpose"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyEnvelope(w, fields, purpose) {
		return
	}
	s.codeSeq++
	code := fmt.Sprintf("%06d", 100000+s.codeSeq)
	s.codes[codeKey(fields.Email, purpose)] = code
	writeJSON(w, http.StatusOK, map[string]any{"expires_in": 600})
}

func (s *Server) handleLoginByCode(w http.ResponseWriter, r *http.Request) {
	var fields signedFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyEnvelope(w, fields, signing.PurposeLogin) {
		return
	}
	if !s.consumeCode(fields.Email, signing.PurposeLogin, fields.Code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_code"})
		return
	}
	s.issueTokenResponse(w, s.ensureAccount(fields.Email))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var fields signedFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyEnvelope(w, fields, signing.PurposeRegister) {
		return
	}
	if !s.consumeCode(fields.Email, signing.PurposeRegister, fields.Code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_code"})
		return
	}
	acct := s.ensureAccount(fields.Email)
	acct.password = fields.Password
	s.issueTokenResponse(w, acct)
}

func (s *Server) handleLoginByPassword(w http.ResponseWriter, r *http.Request) {
	var fields signedFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyEnvelope(w, fields, signing.PurposeLogin) {
		return
	}
	acct, ok := s.accounts[fields.Email]
	if !ok || acct.password == "" || acct.password != fields.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_credentials"})
		return
	}
	s.issueTokenResponse(w, acct)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var fields signedFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyEnvelope(w, fields, signing.PurposeResetPassword) {
		return
	}
	if !s.consumeCode(fields.Email, signing.PurposeResetPassword, fields.Code) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_code"})
		return
	}
	acct, ok := s.accounts[fields.Email]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_credentials"})
		return
	}
	acct.password = fields.NewPass
	w.WriteHeader(http.StatusNoContent)
}

// consumeCode checks and burns a verification code. Callers hold the mutex.
func (s *Server) consumeCode(email string, purpose signing.Purpose, code string) bool {
	key := codeKey(email, purpose)
	stored, ok := s.codes[key]
	if !ok || code == "" || stored != code {
		return false
	}
	delete(s.codes, key)
	return true
}

// ensureAccount returns the account for email, creating it on first use.
// Callers hold the mutex.
func (s *Server) ensureAccount(email string) *account {
	if acct, ok := s.accounts[email]; ok {
		return acct
	}
	acct := &account{
		user: session.User{
			UID:       fmt.Sprintf("u-%d", len(s.accounts)+1),
			Username:  strings.SplitN(email, "@", 2)[0],
			Email:     email,
			Status:    "active",
			CreatedAt: s.clock().UTC(),
		},
	}
	s.accounts[email] = acct
	return acct
}

func (s *Server) issueTokenResponse(w http.ResponseWriter, acct *account) {
	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   acct.user.UID,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokenSecret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "token_issue_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         acct.user,
		"access_token": signed,
		"token_type":   "bearer",
		"expires_in":   int64(s.tokenTTL.Seconds()),
	})
}

// protect validates the bearer token before invoking next.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(
			token,
			claims,
			func(token *jwt.Token) (interface{}, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
				}
				return s.tokenSecret, nil
			},
			jwt.WithAudience(tokenAudience),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithTimeFunc(s.clock),
		)
		if err != nil || claims.Subject == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListSpaces(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]library.Space, 0, len(s.spaces))
	for _, space := range s.spaces {
		out = append(out, space)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertSpace(w http.ResponseWriter, r *http.Request) {
	var space library.Space
	if err := json.NewDecoder(r.Body).Decode(&space); err != nil || space.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	s.spaces[space.ID] = space
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, space)
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.spaces, r.PathValue("id"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]library.Collection, 0)
	for _, collection := range s.collections {
		if collection.SpaceID == spaceID {
			out = append(out, collection)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertCollection(w http.ResponseWriter, r *http.Request) {
	var collection library.Collection
	if err := json.NewDecoder(r.Body).Decode(&collection); err != nil || collection.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	s.collections[collection.ID] = collection
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, collection)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.collections, r.PathValue("id"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]library.Tab, 0)
	for _, tab := range s.tabs {
		if tab.CollectionID == collectionID {
			out = append(out, tab)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertTab(w http.ResponseWriter, r *http.Request) {
	var tab library.Tab
	if err := json.NewDecoder(r.Body).Decode(&tab); err != nil || tab.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	s.tabs[tab.ID] = tab
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleDeleteTab(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.tabs, r.PathValue("id"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchTabs(w http.ResponseWriter, r *http.Request) {
	var tabs []library.Tab
	if err := json.NewDecoder(r.Body).Decode(&tabs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	for _, tab := range tabs {
		if tab.ID != "" {
			s.tabs[tab.ID] = tab
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func codeKey(email string, purpose signing.Purpose) string {
	return email + "|" + string(purpose)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

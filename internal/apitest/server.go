// Package apitest provides an in-process fake of the ticket-desk API for
// exercising the session core end to end: programmable account fixtures,
// token issuance and expiry, refresh failure injection, and call counters
// for asserting retry and coalescing behavior.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/deskd"
)

// Account is a login fixture.
type Account struct {
	Password string
	Profile  deskd.UserProfile
	Blocked  bool
}

// Server is the fake API. Counters are updated atomically; configuration
// methods are safe to call while requests are in flight.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]Account
	validAccess   map[string]deskd.UserProfile
	validRefresh  map[string]deskd.UserProfile
	tokenSeq      int
	failRefresh   bool
	rotateRefresh bool
	refreshDelay  time.Duration
	tickets       []ticket
	ticketSeq     int64
	userSeq       int64

	LoginCalls   atomic.Int64
	RefreshCalls atomic.Int64
	MeCalls      atomic.Int64
	LogoutCalls  atomic.Int64
}

type ticket struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedBy   int64     `json:"created_by"`
	AssignedTo  *int64    `json:"assigned_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewServer starts a fake API that is shut down with the test.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		accounts:     make(map[string]Account),
		validAccess:  make(map[string]deskd.UserProfile),
		validRefresh: make(map[string]deskd.UserProfile),
	}

	r := chi.NewRouter()
	r.Post("/auth/login/", s.handleLogin)
	r.Post("/auth/refresh/", s.handleRefresh)
	r.Post("/auth/logout/", s.handleLogout)
	r.Get("/auth/me/", s.handleMe)
	r.Get("/tickets/", s.handleListTickets)
	r.Post("/tickets/", s.handleCreateTicket)
	r.Get("/tickets/{id}/", s.handleGetTicket)
	r.Patch("/tickets/{id}/", s.handleUpdateTicket)
	r.Delete("/tickets/{id}/", s.handleDeleteTicket)
	r.Get("/auth/users/list/", s.handleListUsers)
	r.Post("/auth/users/create/", s.handleCreateUser)
	r.Post("/auth/users/{id}/block/", s.handleBlockUser)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// AddAccount registers a login fixture keyed by email.
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.Profile.Email] = a
	if a.Profile.ID > s.userSeq {
		s.userSeq = a.Profile.ID
	}
}

// IssueTokens mints a valid token pair for the given profile without going
// through login, for seeding a vault directly.
func (s *Server) IssueTokens(profile deskd.UserProfile) deskd.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(profile)
}

// ExpireAccessTokens invalidates every outstanding access token; refresh
// tokens stay valid, so the next refresh succeeds.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validAccess = make(map[string]deskd.UserProfile)
}

// RevokeAll invalidates all outstanding tokens, access and refresh.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validAccess = make(map[string]deskd.UserProfile)
	s.validRefresh = make(map[string]deskd.UserProfile)
}

// SetFailRefresh makes the refresh endpoint reject every request.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRotateRefresh makes refresh responses include a rotated refresh token.
func (s *Server) SetRotateRefresh(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateRefresh = rotate
}

// SetRefreshDelay holds each refresh response for d, widening the window in
// which concurrent refresh attempts overlap.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

func (s *Server) issueLocked(profile deskd.UserProfile) deskd.TokenPair {
	s.tokenSeq++
	pair := deskd.TokenPair{
		Access:  fmt.Sprintf("access-%d", s.tokenSeq),
		Refresh: fmt.Sprintf("refresh-%d", s.tokenSeq),
	}
	s.validAccess[pair.Access] = profile
	s.validRefresh[pair.Refresh] = profile
	return pair
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)

	var req struct {
		Email    string     `json:"email"`
		Password string     `json:"password"`
		Role     deskd.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[req.Email]
	if !ok || account.Password != req.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": map[string][]string{"non_field_errors": {"Invalid email or password"}},
		})
		return
	}
	if account.Blocked {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "You are blocked from logging in."})
		return
	}

	pair := s.issueLocked(account.Profile)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   account.Profile,
		"tokens": pair,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid refresh token"})
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	fail := s.failRefresh
	profile, ok := s.validRefresh[req.Refresh]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid refresh token"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	body := map[string]any{}
	if s.rotateRefresh {
		pair := s.issueLocked(profile)
		body["access"] = pair.Access
		body["refresh"] = pair.Refresh
	} else {
		s.tokenSeq++
		access := fmt.Sprintf("access-%d", s.tokenSeq)
		s.validAccess[access] = profile
		body["access"] = access
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.LogoutCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.validRefresh, req.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"detail": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.MeCalls.Add(1)

	profile, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tickets
	if out == nil {
		out = []ticket{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketSeq++
	now := time.Now().UTC()
	t := ticket{
		ID:          s.ticketSeq,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      "open",
		CreatedBy:   profile.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tickets = append(s.tickets, t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.ticketIndexLocked(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.tickets[i])
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Priority    *string `json:"priority"`
		Status      *string `json:"status"`
		AssignedTo  *int64  `json:"assigned_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.ticketIndexLocked(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	t := &s.tickets[i]
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.AssignedTo != nil {
		t.AssignedTo = req.AssignedTo
	}
	t.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, *t)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.ticketIndexLocked(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ticketIndexLocked(id int64) (int, bool) {
	for i := range s.tickets {
		if s.tickets[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	users := []deskd.UserProfile{}
	for _, a := range s.accounts {
		if !a.Blocked {
			users = append(users, a.Profile)
		}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	var req struct {
		Email    string     `json:"email"`
		Password string     `json:"password"`
		Role     deskd.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Email]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": map[string][]string{"email": {"A user with this email already exists."}},
		})
		return
	}
	s.userSeq++
	account := Account{
		Password: req.Password,
		Profile:  deskd.UserProfile{ID: s.userSeq, Email: req.Email, Role: req.Role},
	}
	s.accounts[req.Email] = account
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully.",
		"user":    account.Profile,
	})
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for email, a := range s.accounts {
		if a.Profile.ID != id {
			continue
		}
		a.Blocked = true
		s.accounts[email] = a
		for token, p := range s.validAccess {
			if p.ID == id {
				delete(s.validAccess, token)
			}
		}
		for token, p := range s.validRefresh {
			if p.ID == id {
				delete(s.validRefresh, token)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "User blocked."})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

// requireAdmin authenticates the request and rejects non-admin callers. It
// writes the error response itself; callers just bail when ok is false.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (deskd.UserProfile, bool) {
	profile, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
		return deskd.UserProfile{}, false
	}
	if profile.Role != deskd.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Admin access required."})
		return deskd.UserProfile{}, false
	}
	return profile, true
}

func (s *Server) authenticate(r *http.Request) (deskd.UserProfile, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return deskd.UserProfile{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.validAccess[token]
	return profile, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gaud-proxy/gaud/internal/apierr"
	"github.com/gaud-proxy/gaud/internal/auth"
)

// User is an admin-managed account. Budgets and API keys reference it by
// ID; the proxy itself only ever needs the (user_id, role) pair carried by
// auth.Identity, so User exists purely for the admin surface.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      auth.Role `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserStore is an in-memory admin user directory, suitable for
// single-process deployments; distributed deployments back it with the
// same relational store as auth/budget instead.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserStore creates an empty in-memory user directory.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*User)}
}

func (s *UserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *UserStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("api: user %q not found", u.ID)
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *UserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("api: user %q not found", id)
	}
	delete(s.users, id)
	return nil
}

func (s *UserStore) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

type createUserRequest struct {
	Email string    `json:"email,omitempty"`
	Role  auth.Role `json:"role,omitempty"`
}

// CreateUser implements POST /admin/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	role := req.Role
	if role == "" {
		role = auth.RoleUser
	}

	u := &User{Email: req.Email, Role: role, Active: true}
	if err := h.users.Create(r.Context(), u); err != nil {
		apierr.Write(w, apierr.Internal("failed to create user"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetUser implements GET /admin/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load user"))
		return
	}
	if u == nil {
		apierr.Write(w, apierr.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateUserRequest struct {
	Email  *string    `json:"email,omitempty"`
	Role   *auth.Role `json:"role,omitempty"`
	Active *bool      `json:"active,omitempty"`
}

// UpdateUser implements PUT /admin/users/{id}.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load user"))
		return
	}
	if u == nil {
		apierr.Write(w, apierr.NotFound("user not found"))
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Active != nil {
		u.Active = *req.Active
	}

	if err := h.users.Update(r.Context(), u); err != nil {
		apierr.Write(w, apierr.Internal("failed to update user"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteUser implements DELETE /admin/users/{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.users.Delete(r.Context(), id); err != nil {
		apierr.Write(w, apierr.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// ListUsers implements GET /admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to list users"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

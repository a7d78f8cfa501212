// Package account signs users in and out of the storefront API and hands the
// resulting identity change to the cart.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/example/ec-storefront/internal/gateway"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/session"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrNotSignedIn        = errors.New("not signed in")
	// ErrSessionExpired is returned after the server rejected the stored
	// token and it was forgotten. It matches gateway.ErrAuth.
	ErrSessionExpired = fmt.Errorf("session expired, sign in again: %w", gateway.ErrAuth)
)

type User struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

func (u User) Validate() error {
	if u.ID <= 0 || u.Email == "" {
		return errors.New("user response missing id or email")
	}
	return nil
}

// HasRole reports whether user holds any of roles.
func HasRole(user *User, roles ...string) bool {
	if user == nil {
		return false
	}
	for _, r := range roles {
		if slices.Contains(user.Roles, r) {
			return true
		}
	}
	return false
}

type API interface {
	Do(ctx context.Context, req gateway.Request, out any) error
	EnsureCSRF(ctx context.Context) error
}

type Identities interface {
	Current() session.Identity
	SetToken(ctx context.Context, token string) (session.Transition, error)
	ClearToken(ctx context.Context) (session.Transition, error)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type authResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

func (r authResponse) Validate() error {
	if r.Token == "" {
		return errors.New("auth response has no token")
	}
	if r.User == nil {
		return errors.New("auth response has no user")
	}
	return r.User.Validate()
}

type Service struct {
	api    API
	ids    Identities
	bridge *Bridge
	log    *slog.Logger
}

// NewService creates the account service. bridge may be nil, in which case
// logins do not touch the cart.
func NewService(api API, ids Identities, bridge *Bridge, log *slog.Logger) *Service {
	if log == nil {
		log = logging.New("account")
	}
	return &Service{api: api, ids: ids, bridge: bridge, log: log}
}

func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if err := s.api.EnsureCSRF(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch csrf cookie: %w", err)
	}

	var resp authResponse
	err := s.api.Do(ctx, gateway.Request{
		Op:     "auth.login",
		Method: http.MethodPost,
		Path:   "/login",
		Body:   loginRequest{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if err := s.api.EnsureCSRF(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch csrf cookie: %w", err)
	}

	var resp authResponse
	err := s.api.Do(ctx, gateway.Request{
		Op:     "auth.register",
		Method: http.MethodPost,
		Path:   "/register",
		Body: registerRequest{
			Name:                 strings.TrimSpace(name),
			Email:                email,
			Password:             password,
			PasswordConfirmation: password,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

// establish persists the token, then lets the bridge merge the guest cart.
func (s *Service) establish(ctx context.Context, resp authResponse) (*User, error) {
	t, err := s.ids.SetToken(ctx, resp.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	if s.bridge != nil {
		s.bridge.AfterLogin(ctx, t, resp.Token)
	}
	s.log.Info("signed in", "user_id", resp.User.ID)
	return resp.User, nil
}

// Logout revokes the token server-side and always forgets it locally, even
// if the server call fails.
func (s *Service) Logout(ctx context.Context) error {
	if !s.ids.Current().IsAuthenticated() {
		return nil
	}

	err := s.api.Do(ctx, gateway.Request{Op: "auth.logout", Method: http.MethodPost, Path: "/logout"}, nil)
	if err != nil {
		s.log.Warn("server logout failed, clearing token anyway", "error", err)
	}

	if _, err := s.ids.ClearToken(ctx); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Me returns the authenticated user.
func (s *Service) Me(ctx context.Context) (*User, error) {
	var user User
	if err := s.api.Do(ctx, gateway.Request{Op: "auth.me", Method: http.MethodGet, Path: "/user"}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckAuth verifies the stored token against /user. A token the server
// rejects is cleared, which drops the identity back to guest or none; other
// failures leave it in place.
func (s *Service) CheckAuth(ctx context.Context) (*User, error) {
	if !s.ids.Current().IsAuthenticated() {
		return nil, ErrNotSignedIn
	}

	user, err := s.Me(ctx)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gateway.ErrAuth) {
		return nil, err
	}

	if _, cerr := s.ids.ClearToken(ctx); cerr != nil {
		return nil, fmt.Errorf("failed to clear rejected token: %w", cerr)
	}
	s.log.Info("stored token rejected by the server, signed out")
	return nil, ErrSessionExpired
}

package sandbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/example/ec-storefront/internal/auth"
)

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
}

const defaultRole = "customer"

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fields := map[string][]string{}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = []string{"The name field is required."}
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = []string{"The email must be a valid email address."}
	}
	if req.PasswordConfirmation != "" && req.PasswordConfirmation != req.Password {
		fields["password"] = []string{"The password confirmation does not match."}
	}
	if len(fields) > 0 {
		respondValidation(w, "The given data was invalid.", fields)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		respondValidation(w, "The password must be at least 8 characters.", map[string][]string{
			"password": {"The password must be at least 8 characters."},
		})
		return
	}
	if err != nil {
		s.log.Error("failed to hash password", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}

	user, err := s.state.addUser(strings.TrimSpace(req.Name), req.Email, hash, []string{defaultRole})
	if errors.Is(err, ErrEmailTaken) {
		respondValidation(w, "The email has already been taken.", map[string][]string{
			"email": {"The email has already been taken."},
		})
		return
	}
	if err != nil {
		respondMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}
	s.issueToken(w, http.StatusCreated, user, "Registration successful")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, ok := s.state.userByEmail(req.Email)
	if !ok || !auth.CheckPassword(req.Password, user.passwordHash) {
		respondValidation(w, "The provided credentials are incorrect.", map[string][]string{
			"email": {"The provided credentials are incorrect."},
		})
		return
	}
	s.issueToken(w, http.StatusOK, user, "Login successful")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	s.tokens.Revoke(claims)
	respondMessage(w, http.StatusOK, "Logged out successfully")
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	user, ok := s.state.userByID(claims.UserID)
	if !ok {
		respondMessage(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// csrfCookie hands out the XSRF-TOKEN cookie of the Sanctum SPA handshake.
// The sandbox does not verify it.
func (s *Server) csrfCookie(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		respondMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "XSRF-TOKEN",
		Value:    base64.RawURLEncoding.EncodeToString(buf),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) issueToken(w http.ResponseWriter, status int, user *User, message string) {
	token, _, err := s.tokens.Issue(user.ID, user.Email, user.Roles)
	if err != nil {
		s.log.Error("failed to issue token", "error", err)
		respondMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}
	respondJSON(w, status, authResponse{Message: message, Token: token, User: user})
}

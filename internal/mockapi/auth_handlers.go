package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/theDeemoonn/foodMobile/users"
	"golang.org/x/crypto/bcrypt"
)

var errMissingCredential = errors.New("missing credential")

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler exchanges email and password for a token set.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.loginCalls.Add(1)
		var req credentialsRequest
		if !decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		acc, ok := s.accounts[normalizeEmail(req.Email)]
		if !ok || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		if !acc.Confirmed {
			writeError(w, http.StatusForbidden, "email not confirmed")
			return
		}
		s.writeTokens(w, acc.UserID)
	}
}

// RegisterHandler creates an account. With email confirmation enabled no
// tokens are issued until the code is confirmed.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if !decode(w, r, &req) {
			return
		}
		if err := s.validator.Login(req.Email, req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}

		email := normalizeEmail(req.Email)
		s.lock.Lock()
		defer s.lock.Unlock()
		if _, exists := s.accounts[email]; exists {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		profile := &users.User{Email: email}
		if err := s.users.Upsert(profile); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		acc := &account{UserID: profile.ID, PasswordHash: string(hash), Confirmed: s.confirmCode == ""}
		s.accounts[email] = acc

		if !acc.Confirmed {
			s.logger.Info().Str("code", s.confirmCode).Msg("confirmation code issued")
			writeJSON(w, http.StatusCreated, tokenResponse{ConfirmationRequired: true})
			return
		}
		s.writeTokens(w, acc.UserID)
	}
}

func (s *Server) ConfirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
			Code  string `json:"code"`
		}
		if !decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		acc, ok := s.accounts[normalizeEmail(req.Email)]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown email")
			return
		}
		if !acc.Confirmed {
			if req.Code == "" || req.Code != s.confirmCode {
				writeError(w, http.StatusBadRequest, "invalid confirmation code")
				return
			}
			acc.Confirmed = true
		}
		s.writeTokens(w, acc.UserID)
	}
}

// ValidateHandler answers 200 for a live access token and 401 otherwise.
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.validateCalls.Add(1)
		var req struct {
			AccessToken string `json:"access_token"`
		}
		if !decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		userID, err := s.verifyAccessToken(req.AccessToken)
		s.lock.Unlock()
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user_id": userID})
	}
}

// RefreshHandler rotates a refresh token. The old refresh token and its
// session stop working.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		resp, err := s.rotateRefreshToken(req.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		noStore(w)
		writeJSON(w, http.StatusOK, resp)
	}
}

// LogoutHandler revokes whatever the client still holds. It always succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logoutCalls.Add(1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
			SessionID    string `json:"session_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.lock.Lock()
		defer s.lock.Unlock()
		if rt, ok := s.refreshTokens[req.RefreshToken]; ok {
			delete(s.sessions, rt.SessionID)
			delete(s.refreshTokens, req.RefreshToken)
		}
		delete(s.sessions, req.SessionID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeTokens issues tokens for userID. The caller holds s.lock.
func (s *Server) writeTokens(w http.ResponseWriter, userID string) {
	resp, err := s.issueTokens(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, resp)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, map[string]string{
		"error":             strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_"),
		"error_description": description,
	})
}

package mockapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenResponse is what login, confirm and refresh return.
type tokenResponse struct {
	AccessToken          string `json:"access_token,omitempty"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
	TokenType            string `json:"token_type,omitempty"`
	ExpiresIn            int    `json:"expires_in,omitempty"`
	ConfirmationRequired bool   `json:"confirmation_required,omitempty"`
}

// storedRefreshToken is the server-side metadata of an opaque refresh token.
type storedRefreshToken struct {
	UserID    string
	SessionID string
	Iat       time.Time
}

type storedSession struct {
	UserID    string
	ExpiresAt time.Time
}

// issueTokens mints an access token, a refresh token and a session for
// userID. The caller holds s.lock.
func (s *Server) issueTokens(userID string) (*tokenResponse, error) {
	now := s.nowTime()
	sessionID := uuid.New().String()
	jti := uuid.New().String()

	claims := jwtlib.MapClaims{
		"iss": s.issuer,
		"sub": userID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTokenTTL).Unix(),
		"jti": jti,
	}
	accessToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT token: %w", err)
	}

	refreshToken, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	s.accessTokens[jti] = userID
	s.sessions[sessionID] = &storedSession{UserID: userID, ExpiresAt: now.Add(s.accessTokenTTL)}
	s.refreshTokens[refreshToken] = &storedRefreshToken{UserID: userID, SessionID: sessionID, Iat: now}

	return &tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
	}, nil
}

// verifyAccessToken returns the user of a live access token. The caller
// holds s.lock.
func (s *Server) verifyAccessToken(raw string) (string, error) {
	token, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		return s.signingKey, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.nowTime),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuer(s.issuer),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	jti, _ := claims["jti"].(string)
	userID, ok := s.accessTokens[jti]
	if !ok {
		return "", fmt.Errorf("access token revoked")
	}
	return userID, nil
}

// verifySession returns the user of a live session. The caller holds s.lock.
func (s *Server) verifySession(sessionID string) (string, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown session")
	}
	if !s.nowTime().Before(session.ExpiresAt) {
		delete(s.sessions, sessionID)
		return "", fmt.Errorf("session expired")
	}
	return session.UserID, nil
}

// rotateRefreshToken consumes token and issues a fresh set. The caller holds
// s.lock.
func (s *Server) rotateRefreshToken(token string) (*tokenResponse, error) {
	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown refresh token")
	}
	delete(s.refreshTokens, token)
	delete(s.sessions, rt.SessionID)
	if s.nowTime().Sub(rt.Iat) > s.refreshTokenTTL {
		return nil, fmt.Errorf("refresh token expired")
	}
	return s.issueTokens(rt.UserID)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

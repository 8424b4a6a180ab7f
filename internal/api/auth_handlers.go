package api

import (
	"errors"
	"net/http"
	"time"

	"grimm.is/zedctl/internal/auth"
)

// loginRateLimit bounds password guessing per client address.
const (
	loginRateLimit    = 10
	loginRateInterval = time.Minute
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow(ip, loginRateLimit, loginRateInterval) {
		s.log.Warn("login rate limited", "ip", ip)
		WriteError(w, http.StatusTooManyRequests, "too many login attempts, retry later")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			s.log.Warn("login rejected", "username", req.Username)
			WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.limiter.Reset(ip)
	s.log.Audit("login", "session", map[string]any{"username": sess.Username})
	WriteJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		Username:  sess.Username,
		ExpiresIn: s.sessions.TTLSeconds(),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"username":   sess.Username,
		"expires_at": sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(auth.TokenFromRequest(r))
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"canvas-relay/internal/auth"
)

const sessionCookieName = "session"

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validateUsername(req.Username); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeAPIError(w, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	user := &UserRecord{
		PublicID:     uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    timeNowUTC(),
	}
	if !s.store.AddUser(user) {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if err := s.persistUser(user); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		s.logger.WithError(err).Error("failed to persist user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("user created")
	writeJSON(w, http.StatusCreated, userView(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, found := s.store.FindUserByName(strings.TrimSpace(req.Username))
	if !found {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	token, err := auth.CreateToken(user.PublicID, s.cfg.TokenExpireSeconds)
	if err != nil {
		s.logger.WithError(err).Error("failed to sign token")
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   s.cfg.TokenExpireSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userView(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	writeJSON(w, http.StatusOK, userView(user))
}

// requireUser resolves the caller from a Bearer header or the session cookie
// and passes the user record through to the wrapped handler.
func (s *Server) requireUser(next func(w http.ResponseWriter, r *http.Request, user *UserRecord)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.userFromRequest(r)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) userFromRequest(r *http.Request) (*UserRecord, error) {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		if query := r.URL.Query().Get("token"); query != "" {
			token = query
		}
	}
	if token == "" {
		return nil, errUnauthorized("authentication required")
	}
	publicID, err := auth.AuthenticateToken(token)
	if err != nil {
		return nil, errUnauthorized("invalid or expired token")
	}
	user, found := s.store.FindUserByPublicID(publicID)
	if !found {
		return nil, errUnauthorized("unknown user")
	}
	return user, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func userView(user *UserRecord) map[string]any {
	view := map[string]any{
		"id":           user.PublicID,
		"username":     user.Username,
		"games_hosted": user.GamesHosted,
		"games_played": user.GamesPlayed,
		"turns_taken":  user.TurnsTaken,
		"created_at":   user.CreatedAt,
	}
	return view
}

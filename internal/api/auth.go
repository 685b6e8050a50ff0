package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/internal/store"
)

const sessionCookie = "minedeck_session"

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" || req.Email == "" {
		writeError(c, http.StatusBadRequest, "username, password and email are required")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		writeError(c, http.StatusConflict, "username already taken")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(c, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "hash password failed")
		return
	}

	token := uuid.NewString()
	user := &domain.User{
		ID:                uuid.NewString(),
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      string(hash),
		VerificationToken: &token,
		CreatedAt:         time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := s.mailer.SendVerification(user.Email, token); err != nil {
		s.log.Warnf("send verification mail: %v", err)
	}

	s.startSession(c, user.ID)
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := s.store.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.startSession(c, user.ID)
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleLogout(c *gin.Context) {
	if token := s.sessionToken(c); token != "" {
		s.sessions.Delete(token)
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleVerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		writeError(c, http.StatusBadRequest, "token is required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.store.GetUserByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "invalid verification token")
			return
		}
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	user.IsVerified = true
	user.VerificationToken = nil
	if err := s.store.UpdateUser(ctx, user); err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) startSession(c *gin.Context, userID string) {
	token := uuid.NewString()
	s.sessions.Set(token, userID, sessionTTL)
	c.SetCookie(sessionCookie, token, int(sessionTTL.Seconds()), "/", "", false, true)
	c.Header("X-Session-Token", token)
}

// sessionToken extracts the session token from the cookie or from an
// Authorization: Bearer header (used by the websocket client and tests).
func (s *Server) sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
		return cookie
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireAuth resolves the session to a user and aborts with 401 when
// there is none.
func (s *Server) requireAuth(c *gin.Context) {
	token := s.sessionToken(c)
	if token == "" {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		c.Abort()
		return
	}
	userID, ok := s.sessions.Get(token)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		c.Abort()
		return
	}
	user, err := s.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		c.Abort()
		return
	}
	c.Set("user", user)
	c.Next()
}

func currentUser(c *gin.Context) *domain.User {
	u, _ := c.MustGet("user").(*domain.User)
	return u
}

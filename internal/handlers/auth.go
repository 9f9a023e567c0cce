package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"groupchat-service/internal/auth"
	"groupchat-service/internal/email"
	"groupchat-service/internal/repositories"
	"groupchat-service/internal/telemetry"
)

// AuthHandler manages registration and login.
type AuthHandler struct {
	users  repositories.UserRepository
	tokens *auth.TokenManager
	mailer *email.Sender
	audit  *telemetry.AuditEmitter
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users repositories.UserRepository, tokens *auth.TokenManager, mailer *email.Sender, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, mailer: mailer, audit: audit}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not register"})
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Username, req.Email, hash)
	if err != nil {
		h.emitAudit(c, "ERROR", "registration failed")
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
		return
	}

	// Verification email is best-effort; registration succeeds regardless.
	code := verificationCode()
	if err := h.users.SetVerificationCode(c.Request.Context(), user.ID, code); err != nil {
		log.Printf("store verification code for user %d failed: %v", user.ID, err)
	}
	go func() {
		if err := h.mailer.SendVerification(user.Email, user.Username, code); err != nil {
			log.Printf("verification email to %s failed: %v", user.Email, err)
		}
	}()

	h.emitAudit(c, "INFO", "User registered")
	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log in"})
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.emitAudit(c, "ERROR", "bad credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not log in"})
		return
	}

	h.emitAudit(c, "INFO", "User logged in")
	c.JSON(http.StatusOK, gin.H{"access_token": token, "user_id": user.ID, "username": user.Username})
}

// Verify handles POST /auth/verify.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Code     string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.VerifyByCode(c.Request.Context(), req.Username, req.Code); err != nil {
		if errors.Is(err, repositories.ErrBadCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification code"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify"})
		return
	}

	h.emitAudit(c, "INFO", "User verified")
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *AuthHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func verificationCode() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}

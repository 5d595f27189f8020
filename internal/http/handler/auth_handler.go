package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/config"
	"github.com/dadyutenga/ShopApI/internal/domain"
	"github.com/dadyutenga/ShopApI/internal/http/middleware"
	"github.com/dadyutenga/ShopApI/internal/keys"
	"github.com/dadyutenga/ShopApI/internal/service"
)

// AuthHandler exposes the auth flows over REST.
type AuthHandler struct {
	Auth   *service.AuthService
	Keys   *keys.Manager
	Cfg    config.Config
	Logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, keyManager *keys.Manager, cfg config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Keys: keyManager, Cfg: cfg, Logger: logger}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login handles password authentication.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	pair, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairResponse(pair))
}

// Refresh exchanges a refresh token for a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Refresh token is required."})
		return
	}

	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairResponse(pair))
}

// Logout revokes the current session.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.Auth.Logout(c.Request.Context(), middleware.BearerToken(c), req.RefreshToken); err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// OTPRequest issues a one-time passcode for passwordless login.
func (h *AuthHandler) OTPRequest(c *gin.Context) {
	var req struct {
		Email   string `json:"email" binding:"required,email"`
		Purpose string `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email is required."})
		return
	}
	if req.Purpose == "" {
		req.Purpose = "customer_auth"
	}

	issuance, err := h.Auth.RequestOTP(c.Request.Context(), req.Email, req.Purpose, c.ClientIP())
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	// The code itself goes out of band; the response only confirms issuance.
	c.JSON(http.StatusOK, gin.H{
		"message":    "OTP sent",
		"expires_at": issuance.ExpiresAt.Unix(),
	})
}

// OTPResend re-delivers the live challenge, keeping the same code when one
// is still valid.
func (h *AuthHandler) OTPResend(c *gin.Context) {
	var req struct {
		Email   string `json:"email" binding:"required,email"`
		Purpose string `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email is required."})
		return
	}
	if req.Purpose == "" {
		req.Purpose = "customer_auth"
	}

	issuance, err := h.Auth.ResendOTP(c.Request.Context(), req.Email, req.Purpose)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "OTP resent",
		"expires_at": issuance.ExpiresAt.Unix(),
	})
}

// OTPVerify validates a submitted code and returns a token pair.
func (h *AuthHandler) OTPVerify(c *gin.Context) {
	var req struct {
		Email   string `json:"email" binding:"required,email"`
		Purpose string `json:"purpose"`
		Code    string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and code are required."})
		return
	}
	if req.Purpose == "" {
		req.Purpose = "customer_auth"
	}

	pair, result, err := h.Auth.VerifyOTP(c.Request.Context(), req.Email, req.Purpose, req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_otp", "error_description": "OTP " + result.String() + "."})
			return
		}
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairResponse(pair))
}

// Me returns the verified principal attached by the bearer middleware.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  principal.UserID,
		"email":    principal.Email,
		"role":     principal.Role,
		"provider": principal.Provider,
	})
}

// JWKS exposes the public signing keys.
func (h *AuthHandler) JWKS(c *gin.Context) {
	set, err := h.Keys.JWKS(c.Request.Context())
	if err != nil {
		h.Logger.Error("jwks lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *AuthHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrLocked):
		c.Header("Retry-After", strconv.Itoa(int(h.Cfg.LockoutWindow.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account_locked", "error_description": "Account is temporarily locked due to too many failed login attempts."})
	case errors.Is(err, domain.ErrRateLimited):
		c.Header("Retry-After", strconv.Itoa(int(h.Cfg.OTPRateLimitWindow.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "error_description": "Too many requests. Try again later."})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "error_description": "Invalid credentials."})
	case errors.Is(err, cache.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Please retry."})
	default:
		h.Logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}

func pairResponse(pair domain.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}

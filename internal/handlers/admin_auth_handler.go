package handlers

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"collateral-backend/internal/config"
	"collateral-backend/internal/dto"
	"collateral-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthHandler admin login: bcrypt password plus TOTP
type AdminAuthHandler struct {
	cfg       config.AdminConfig
	jwtSecret []byte
	now       func() time.Time
}

// NewAdminAuthHandler creates the admin auth handler
func NewAdminAuthHandler(cfg config.AdminConfig) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.PasswordHash == "" {
		logrus.Warn("⚠️ admin.totp_secret or admin.password_hash not set, admin login is disabled")
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("failed to generate admin jwt secret: %v", err))
		}
		logrus.Warn("⚠️ admin.jwt_secret not set, admin tokens will not survive a restart")
	}
	return &AdminAuthHandler{
		cfg:       cfg,
		jwtSecret: secret,
		now:       time.Now,
	}
}

// AdminLoginHandler verifies username, password and TOTP code
// POST /api/v1/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.cfg.TOTPSecret == "" || h.cfg.PasswordHash == "" {
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{
			Success: false,
			Message: "Server misconfiguration: admin credentials not set",
		})
		return
	}

	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if req.Username != h.cfg.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "Invalid credentials"})
		return
	}

	if !totp.Validate(req.TOTPCode, h.cfg.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "Invalid TOTP code"})
		return
	}

	token, err := h.IssueAdminToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{Success: false, Message: "Failed to generate token"})
		return
	}

	logrus.WithField("admin", req.Username).Info("🔐 Admin login")
	c.JSON(http.StatusOK, dto.AuthResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// GenerateTOTPSecretHandler issues a fresh TOTP secret while none is configured
// POST /api/v1/admin/totp
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.cfg.TOTPSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Collateral Backend",
		AccountName: h.cfg.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Store this secret in ADMIN_TOTP_SECRET",
	})
}

// IssueAdminToken signs an admin session bound to the configured operator address
func (h *AdminAuthHandler) IssueAdminToken(username string) (string, error) {
	now := h.now()
	claims := dto.AdminJWTClaims{
		Username: username,
		Role:     "admin",
		Address:  utils.NormalizeAddress(h.cfg.Address),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "collateral-backend-admin",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminJWTToken parses and verifies an admin token
func (h *AdminAuthHandler) ValidateAdminJWTToken(tokenString string) (*dto.AdminJWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*dto.AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// HashAdminPassword produces the bcrypt hash stored in admin.password_hash
func HashAdminPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

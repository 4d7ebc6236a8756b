package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// AuthRequest wallet sign-in request
type AuthRequest struct {
	UserAddress string `json:"user_address" binding:"required"` // user wallet address
	Message     string `json:"message" binding:"required"`      // message returned by the nonce endpoint
	Signature   string `json:"signature" binding:"required"`    // personal_sign signature, 65 bytes hex
}

// AuthResponse Authentication response structure
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// JWTClaims user session claims
type JWTClaims struct {
	UserAddress string `json:"user_address"`
	jwt.RegisteredClaims
}

// AdminLoginRequest admin login request
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminJWTClaims admin session claims. Address is the operator identity admin actions run as.
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Address  string `json:"address"`
	jwt.RegisteredClaims
}

package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"collateral-backend/internal/dto"
	"collateral-backend/internal/utils"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const authMessagePrefix = "Collateral Backend Authentication"

// AuthHandler wallet sign-in and user JWT issuing
type AuthHandler struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	skew      time.Duration
	now       func() time.Time
}

// NewAuthHandler creates the handler. An empty secret gets a random per-process one.
func NewAuthHandler(secret string, tokenTTL, skew time.Duration) *AuthHandler {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("failed to generate jwt secret: %v", err))
		}
		logrus.Warn("⚠️ auth.jwt_secret not set, user tokens will not survive a restart")
	}
	return &AuthHandler{
		jwtSecret: key,
		tokenTTL:  tokenTTL,
		skew:      skew,
		now:       time.Now,
	}
}

// GenerateNonceHandler returns a message for the wallet to sign
// GET /api/v1/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "failed to generate nonce",
		})
		return
	}

	nonceStr := hex.EncodeToString(nonce)
	timestamp := h.now().Unix()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"nonce":     nonceStr,
		"message":   fmt.Sprintf("%s\nNonce: %s\nTimestamp: %d", authMessagePrefix, nonceStr, timestamp),
		"timestamp": timestamp,
	})
}

// AuthenticateHandler verifies a signed nonce message and issues a JWT
// POST /api/v1/auth/login
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req dto.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{
			Success: false,
			Message: fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	address := utils.NormalizeAddress(req.UserAddress)
	if address == "" {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{Success: false, Message: "invalid user address"})
		return
	}

	if err := h.checkMessage(req.Message); err != nil {
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: err.Error()})
		return
	}

	signer, err := RecoverSigner(req.Message, req.Signature)
	if err != nil || signer != address {
		logrus.WithFields(logrus.Fields{"user": address, "signer": signer}).Warn("🔐 Signature verification failed")
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "signature verification failed"})
		return
	}

	token, err := h.IssueToken(address)
	if err != nil {
		logrus.WithError(err).Error("❌ JWT generation failed")
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{Success: false, Message: "token generation failed"})
		return
	}

	logrus.WithField("user", address).Info("✅ User authenticated")
	c.JSON(http.StatusOK, dto.AuthResponse{
		Success: true,
		Token:   token,
		Message: "success",
	})
}

// checkMessage accepts only our own nonce messages inside the skew window
func (h *AuthHandler) checkMessage(message string) error {
	if !strings.HasPrefix(message, authMessagePrefix) {
		return errors.New("unexpected message")
	}
	idx := strings.LastIndex(message, "Timestamp: ")
	if idx < 0 {
		return errors.New("message has no timestamp")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(message[idx+len("Timestamp: "):]), 10, 64)
	if err != nil {
		return errors.New("invalid message timestamp")
	}
	age := h.now().Sub(time.Unix(ts, 0))
	if age < -h.skew || age > h.skew {
		return errors.New("message expired")
	}
	return nil
}

// RecoverSigner returns the normalized address that personal_signed message
func RecoverSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return utils.NormalizeAddress(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// IssueToken signs a user session token
func (h *AuthHandler) IssueToken(userAddress string) (string, error) {
	now := h.now()
	claims := dto.JWTClaims{
		UserAddress: userAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "collateral-backend",
			Subject:   userAddress,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWTToken parses and verifies a user token
func (h *AuthHandler) ValidateJWTToken(tokenString string) (*dto.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*dto.JWTClaims)
	if !ok || !token.Valid || utils.NormalizeAddress(claims.UserAddress) == "" {
		return nil, errors.New("invalid token")
	}
	claims.UserAddress = utils.NormalizeAddress(claims.UserAddress)
	return claims, nil
}

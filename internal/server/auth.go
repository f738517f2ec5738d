package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// adminTokenTTL bounds how long an exchanged admin token stays valid.
const adminTokenTTL = 8 * time.Hour

// adminClaims are the JWT claims for an operator session token. Admin tokens
// are issued only in exchange for the static admin secret and guard the
// explicit-audit endpoints.
type adminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenIssuer issues and verifies HMAC-signed admin tokens.
type TokenIssuer struct {
	key    []byte
	issuer string
}

// NewTokenIssuer creates a TokenIssuer keyed on the daemon's admin secret.
func NewTokenIssuer(secret, issuerURL string) *TokenIssuer {
	return &TokenIssuer{key: []byte(secret), issuer: issuerURL}
}

// Issue creates a signed admin token.
func (t *TokenIssuer) Issue() (string, error) {
	now := time.Now().UTC()
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(adminTokenTTL)),
			ID:        uuid.New().String(),
		},
		Role: "admin",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an admin token.
func (t *TokenIssuer) Verify(tokenStr string) error {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&adminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.key, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*adminClaims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return fmt.Errorf("not an admin token")
	}
	return nil
}

// AdminGuard returns a Gin middleware requiring a valid bearer admin token.
func AdminGuard(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := issuer.Verify(tokenStr); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

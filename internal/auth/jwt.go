package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Permission string

const (
	PermEndpointsRead Permission = "endpoints:read"
	PermHistoryRead   Permission = "history:read"
	PermHistoryWrite  Permission = "history:write"
)

// AllPermissions is granted to every caller when authentication is disabled.
var AllPermissions = []Permission{PermEndpointsRead, PermHistoryRead, PermHistoryWrite}

type JWTClaims struct {
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// JWTHandler verifies bearer tokens issued by the deployment's identity provider.
type JWTHandler struct {
	secretKey []byte
	issuer    string
}

func NewJWTHandler(secretKey, issuer string) *JWTHandler {
	return &JWTHandler{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

// GenerateAccessToken signs a token for subject. Used by tooling and tests; the
// registry itself never issues credentials.
func (j *JWTHandler) GenerateAccessToken(subject string, perms []Permission, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

// ValidateAccessToken validates and parses a JWT access token
func (j *JWTHandler) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, opts...)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

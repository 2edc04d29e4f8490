// Package auth issues and verifies the bearer tokens that scope every
// request to a user and their active organization.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity attached to every authenticated request.
// Org is the user's active organization; all data access is scoped by it.
type Claims struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	Org        string `json:"org"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	JTI        string `json:"jti"`
	Exp        int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        claims.Sub,
		"name":       claims.Name,
		"org":        claims.Org,
		"role":       claims.Role,
		"department": claims.Department,
		"jti":        claims.JTI,
		"exp":        claims.Exp,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, tokenString string) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{
		Sub:        stringClaim(mapClaims, "sub"),
		Name:       stringClaim(mapClaims, "name"),
		Org:        stringClaim(mapClaims, "org"),
		Role:       stringClaim(mapClaims, "role"),
		Department: stringClaim(mapClaims, "department"),
		JTI:        stringClaim(mapClaims, "jti"),
	}
	if exp, expErr := mapClaims.GetExpirationTime(); expErr == nil && exp != nil {
		claims.Exp = exp.Unix()
	}
	if claims.Sub == "" || claims.Org == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if value, ok := claims[key].(string); ok {
		return value
	}
	return ""
}

// HashToken derives the storage key for a refresh token; raw refresh
// tokens are never persisted.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

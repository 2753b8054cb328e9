package invite

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const purposeInvitation = "invitation"

var ErrInvalidToken = errors.New("invalid invitation token")

type Claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewToken issues a signed invitation for self-service password setting.
// Its expiry is independent of any session or MFA code lifetime.
func NewToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Purpose: purposeInvitation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates an invitation token and returns the invited user id.
func ParseToken(secret, issuer, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purposeInvitation || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

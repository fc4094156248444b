package jwtauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrMalformed = errors.New("token is malformed or has an invalid signature")
	ErrExpired   = errors.New("token has expired")
	ErrNoSubject = errors.New("token carries no subject")
)

// GetToken issues an HS256-signed token with the given subject and an
// absolute expiry ttl from now.
func GetToken(subject string, ttl time.Duration, secret string) (string, error) {
	claims := jwt.StandardClaims{ //nolint:exhaustruct
		Subject:   subject,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token error: %w", err)
	}

	return signed, nil
}

// ValidateToken verifies the signature and expiry of a token issued by
// GetToken and returns its subject.
func ValidateToken(tokenString, secret string) (string, error) {
	claims := new(jwt.StandardClaims)

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"]) //nolint:goerr113
		}

		return []byte(secret), nil
	})
	if err != nil {
		vErr := new(jwt.ValidationError)
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return "", ErrExpired
		}

		return "", ErrMalformed
	}

	if !token.Valid {
		return "", ErrMalformed
	}

	if claims.Subject == "" {
		return "", ErrNoSubject
	}

	return claims.Subject, nil
}

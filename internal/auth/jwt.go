package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "samaki-checkout"

// Claims identify the buyer behind a checkout request.
type Claims struct {
	CustomerID uuid.UUID
	Name       string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	CustomerID string `json:"customer_id"`
	Name       string `json:"name,omitempty"`
}

func GenerateToken(customerID uuid.UUID, name string, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   customerID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		CustomerID: customerID.String(),
		Name:       name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}

	customerID, err := uuid.Parse(tc.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid customer_id in token: %w", err)
	}

	return &Claims{
		CustomerID: customerID,
		Name:       tc.Name,
	}, nil
}

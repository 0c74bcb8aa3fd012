package auth

import (
	"errors"
	"time"

	"paycore/config"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the caller. Donor identities are owned by an upstream
// account service; this service only verifies the tokens it signs.
type Claims struct {
	DonorID string `json:"donor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(cfg *config.JWTConfig, donorID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		DonorID: donorID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   donorID,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.AccessSecret))
}

var ErrInvalidToken = errors.New("invalid token")

func ParseAccessToken(cfg *config.JWTConfig, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.AccessSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.DonorID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package emulator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Issuer is the iss claim of emulated auth tokens.
const Issuer = "installations-emulator"

// AuthClaims are the claims carried by an emulated auth token.
type AuthClaims struct {
	FID       string `json:"fid"`
	ProjectID string `json:"project_id"`
	AppID     string `json:"app_id"`
	jwt.RegisteredClaims
}

// tokenIssuer signs auth tokens and hashes refresh tokens.
type tokenIssuer struct {
	secret     []byte
	bcryptCost int
}

func newTokenIssuer(secret string, bcryptCost int) (*tokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
	}
	return &tokenIssuer{secret: []byte(secret), bcryptCost: bcryptCost}, nil
}

// newRefreshToken returns a fresh opaque refresh token.
func newRefreshToken() string {
	return "2_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// hashRefreshToken generates a bcrypt hash of a refresh token
func (t *tokenIssuer) hashRefreshToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), t.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyRefreshToken checks if a refresh token matches a bcrypt hash
func (t *tokenIssuer) verifyRefreshToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// issue creates a signed auth token valid for ttl from now.
func (t *tokenIssuer) issue(projectID, appID, fid string, now time.Time, ttl time.Duration) (string, error) {
	claims := AuthClaims{
		FID:       fid,
		ProjectID: projectID,
		AppID:     appID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   fid,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// parse validates an auth token at now and extracts its claims.
func (t *tokenIssuer) parse(tokenString string, now time.Time) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AuthClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token claims")
}

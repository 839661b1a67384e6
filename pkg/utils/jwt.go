package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sitter-points-backend/pkg/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// JWTService issues and validates HMAC-signed member tokens.
type JWTService struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTService creates a JWTService signing with secretKey.
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// GenerateTokenPair issues an access and a refresh token. expiresIn is the
// access token expiry as a unix timestamp.
func (j *JWTService) GenerateTokenPair(memberID, email string) (accessToken, refreshToken string, expiresIn int64, err error) {
	accessToken, expiresIn, err = j.sign(memberID, email, TokenTypeAccess, accessTokenTTL)
	if err != nil {
		return "", "", 0, err
	}
	refreshToken, _, err = j.sign(memberID, email, TokenTypeRefresh, refreshTokenTTL)
	if err != nil {
		return "", "", 0, err
	}
	return accessToken, refreshToken, expiresIn, nil
}

// GenerateAccessToken issues a new access token.
func (j *JWTService) GenerateAccessToken(memberID, email string) (string, int64, error) {
	return j.sign(memberID, email, TokenTypeAccess, accessTokenTTL)
}

func (j *JWTService) sign(memberID, email, tokenType string, ttl time.Duration) (string, int64, error) {
	now := j.now()
	expiry := now.Add(ttl)
	claims := &models.TokenClaims{
		MemberID: memberID,
		Email:    email,
		Type:     tokenType,
		Exp:      expiry.Unix(),
		Iat:      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate %s token: %w", tokenType, err)
	}
	return signed, expiry.Unix(), nil
}

// ValidateToken checks the signature and expiry of any member token.
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if claims.MemberID == "" {
		return nil, errors.New("token has no member")
	}
	if j.now().Unix() > claims.Exp {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

// ValidateAccessToken validates a token and requires it to be an access token.
func (j *JWTService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	return j.validateType(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken validates a token and requires it to be a refresh token.
func (j *JWTService) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	return j.validateType(tokenString, TokenTypeRefresh)
}

func (j *JWTService) validateType(tokenString, want string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", want, claims.Type)
	}
	return claims, nil
}

// RefreshAccessToken issues a new access token from a refresh token.
func (j *JWTService) RefreshAccessToken(refreshToken string) (string, int64, error) {
	claims, err := j.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", 0, fmt.Errorf("invalid refresh token: %w", err)
	}
	return j.GenerateAccessToken(claims.MemberID, claims.Email)
}

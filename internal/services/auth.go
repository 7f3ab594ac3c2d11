package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
)

var ErrIdentityTokenInvalid = errors.New("identity token invalid")

type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AuthService verifies the HMAC-signed identity tokens the storefront's
// identity provider hands to logged-in shoppers. The token subject is the
// user id.
type AuthService struct {
	logger    *logrus.Logger
	jwtSecret []byte
	issuer    string
	tokenTTL  time.Duration
}

func NewAuthService(cfg *config.Config, logger *logrus.Logger) *AuthService {
	return &AuthService{
		logger:    logger,
		jwtSecret: []byte(cfg.Auth.JWTSecret),
		issuer:    cfg.Auth.Issuer,
		tokenTTL:  cfg.Auth.TokenTTL,
	}
}

// Enabled reports whether tokens are required. Without a secret, login
// trusts the user id the client sends.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

func (s *AuthService) VerifyIdentityToken(tokenString string) (string, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityTokenInvalid, err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrIdentityTokenInvalid)
	}

	return claims.Subject, nil
}

// IssueToken signs a token the way the identity provider does.
func (s *AuthService) IssueToken(userID, email string) (string, error) {
	now := time.Now()
	ttl := s.tokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := &IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

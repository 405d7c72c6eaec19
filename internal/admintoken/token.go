// Package admintoken issues and validates the short-lived bearer tokens
// that guard the federation admin API.
package admintoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	dErrors "agora/pkg/domain-errors"
)

// Claims carries the admin session identity.
type Claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 admin tokens.
type Service struct {
	signingKey []byte
	issuer     string
	// adminTokenHash is the bcrypt hash of the shared admin credential.
	adminTokenHash string
}

func NewService(signingKey, issuer, adminTokenHash string) *Service {
	return &Service{
		signingKey:     []byte(signingKey),
		issuer:         issuer,
		adminTokenHash: adminTokenHash,
	}
}

// Login exchanges the shared admin credential for a session token.
func (s *Service) Login(credential string, expiresIn time.Duration) (string, error) {
	if s.adminTokenHash == "" {
		return "", dErrors.New(dErrors.CodeForbidden, "admin API is not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminTokenHash), []byte(credential)); err != nil {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid admin credential")
	}
	return s.generate("admin", expiresIn)
}

func (s *Service) generate(subject string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign admin token")
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals a wrong or missing arbiter passphrase.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Service mints and verifies the bearer tokens the HTTP adapter uses to
// identify actors. Party tokens are self-asserted (the core treats handles
// as advisory display data); arbiter tokens additionally require the shared
// passphrase checked against a bcrypt hash loaded at startup.
type Service struct {
	jwtSecret   []byte
	arbiterHash []byte
	tokenTTL    time.Duration
	now         func() time.Time
}

// NewService creates the token service. arbiterPasswordHash may be empty to
// disable arbiter token issuance.
func NewService(jwtSecret, arbiterPasswordHash string, tokenTTL time.Duration) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		arbiterHash: []byte(arbiterPasswordHash),
		tokenTTL:    tokenTTL,
		now:         time.Now,
	}
}

// WithClock overrides the token timestamp source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueToken mints a token per the request. Arbiter requests must present
// the shared passphrase.
func (s *Service) IssueToken(req TokenRequest) (string, error) {
	if req.Identity == "" {
		return "", fmt.Errorf("auth: identity is required")
	}

	role := RoleParty
	if req.Arbiter {
		if len(s.arbiterHash) == 0 {
			return "", ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword(s.arbiterHash, []byte(req.Passphrase)); err != nil {
			return "", ErrInvalidCredentials
		}
		role = RoleArbiter
	}

	return s.generateToken(req.Identity, req.Handle, role)
}

// VerifyToken validates a token and returns its claims.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	identity, ok := claims["identity"].(string)
	if !ok || identity == "" {
		return Claims{}, fmt.Errorf("auth: missing identity claim: %w", ErrInvalidToken)
	}
	handle, _ := claims["handle"].(string)
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: missing role claim: %w", ErrInvalidToken)
	}
	role := Role(roleStr)
	if role != RoleParty && role != RoleArbiter {
		return Claims{}, fmt.Errorf("auth: role %q: %w", roleStr, ErrInvalidToken)
	}

	return Claims{Identity: identity, Handle: handle, Role: role}, nil
}

func (s *Service) generateToken(identity, handle string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"identity": identity,
		"handle":   handle,
		"role":     role,
		"jti":      uuid.NewString(),
		"exp":      now.Add(s.tokenTTL).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

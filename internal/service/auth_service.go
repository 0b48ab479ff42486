package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/evalapi"
)

// Common auth errors.
var (
	ErrSessionExpired = errors.New("portal session expired, please log in again")
)

// ParticipantKind distinguishes guest from registered participants.
type ParticipantKind string

const (
	ParticipantGuest      ParticipantKind = "guest"
	ParticipantRegistered ParticipantKind = "registered"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	Kind  ParticipantKind `json:"kind"`
	Email string          `json:"email"`
}

// AuthService exchanges credentials with the evaluation service and mints
// portal JWTs. The upstream access token is never handed to the browser;
// it lives in Redis keyed by the JWT's JTI and is resolved per request, so
// handlers receive an explicit credential instead of reading ambient state.
type AuthService struct {
	cfg  *config.Config
	rdb  *redis.Client
	eval *evalapi.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, eval *evalapi.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, eval: eval}
}

// GuestLogin registers an anonymous participant upstream and returns a
// portal token bound to the upstream credential.
func (s *AuthService) GuestLogin(ctx context.Context, email, fullName string) (string, error) {
	upstream, err := s.eval.GuestLogin(ctx, email, fullName)
	if err != nil {
		return "", fmt.Errorf("guest login: %w", err)
	}
	return s.mint(ctx, ParticipantGuest, email, upstream.AccessToken)
}

// Login authenticates a registered participant upstream.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	upstream, err := s.eval.Login(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return s.mint(ctx, ParticipantRegistered, email, upstream.AccessToken)
}

// Signup creates an account upstream, then logs it in so the participant
// lands authenticated.
func (s *AuthService) Signup(ctx context.Context, req evalapi.SignupRequest) (string, error) {
	if err := s.eval.Signup(ctx, req); err != nil {
		return "", fmt.Errorf("signup: %w", err)
	}
	return s.Login(ctx, req.Email, req.Password)
}

// mint issues a portal JWT and registers the upstream credential in Redis
// with the same lifetime.
func (s *AuthService) mint(ctx context.Context, kind ParticipantKind, email, upstreamToken string) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		Kind:  kind,
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	key := config.CacheKey.CredentialKey(jti)
	if err := s.rdb.Set(ctx, key, upstreamToken, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a portal JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// UpstreamToken resolves the evaluation-service credential for a portal
// session. A missing entry means the Redis registry expired ahead of the
// JWT (or was flushed) and the participant must log in again.
func (s *AuthService) UpstreamToken(ctx context.Context, claims *Claims) (string, error) {
	key := config.CacheKey.CredentialKey(claims.ID)
	token, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("resolve credential: %w", err)
	}
	return token, nil
}

// RevokeSession drops the upstream credential, invalidating the portal
// session immediately regardless of JWT expiry.
func (s *AuthService) RevokeSession(ctx context.Context, jti string) error {
	return s.rdb.Del(ctx, config.CacheKey.CredentialKey(jti)).Err()
}

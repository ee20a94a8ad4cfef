package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/logger"
	"docchat/internal/redis"
)

var (
	// ErrUnauthorized is returned for missing, unknown or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// Service issues, validates, and revokes caller access tokens. Tokens are
// persisted in user_tokens and, when a redis client is supplied, cached there.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	log        *logger.Logger
	tokenTTL   time.Duration
	cookieName string
	headerName string
}

// NewService constructs an auth service with the supplied token lifetime.
// cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:         db,
		cache:      cache,
		log:        log.With("service", "AuthService"),
		tokenTTL:   ttl,
		cookieName: "auth_token",
		headerName: "Authorization",
	}
}

// IssueToken mints a new random token for the owner and persists it.
func (s *Service) IssueToken(ctx context.Context, ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, ownerID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, ownerID, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// ValidateToken verifies the token exists and has not expired, returning the owner id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", fmt.Errorf("%w: token required", ErrUnauthorized)
	}
	if s.cache != nil {
		if ownerID, err := s.cache.TokenOwner(ctx, authToken); err == nil {
			return ownerID, nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn("token cache lookup failed", "error", err)
		}
	}

	var ownerID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&ownerID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return "", fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	s.cacheToken(ctx, authToken, ownerID, remaining)
	return ownerID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.ForgetTokens(ctx, authToken); err != nil {
			s.log.Warn("token cache delete failed", "error", err)
		}
	}
	return nil
}

// RevokeOwnerTokens removes all tokens belonging to the owner.
func (s *Service) RevokeOwnerTokens(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_tokens WHERE user_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("list owner tokens: %w", err)
	}
	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	rows.Close()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, ownerID); err != nil {
		return fmt.Errorf("revoke owner tokens: %w", err)
	}
	if s.cache != nil && len(tokens) > 0 {
		if err := s.cache.ForgetTokens(ctx, tokens...); err != nil {
			s.log.Warn("token cache delete failed", "error", err)
		}
	}
	return nil
}

func (s *Service) cacheToken(ctx context.Context, token, ownerID string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.RememberToken(ctx, token, ownerID, ttl); err != nil {
		s.log.Warn("token cache store failed", "error", err)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Ready checks the token cache when one is configured.
func (s *Service) Ready(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

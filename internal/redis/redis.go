package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"docchat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const (
	tokenNamespace = "docchat:token:"
	dialTimeout    = 3 * time.Second
)

// ErrCacheMiss is returned when a token is not cached.
var ErrCacheMiss = errors.New("cache miss")

// Client caches access token ownership in redis. Keys live under
// "docchat:token:" and expire with the token.
type Client struct {
	inner *redis.Client
}

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	inner := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
	c := &Client{inner: inner}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		inner.Close()
		return nil, err
	}
	return c, nil
}

// RememberToken records the owner of token until ttl elapses.
func (c *Client) RememberToken(ctx context.Context, token, ownerID string, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errors.New("redis client not initialized")
	}
	if ttl <= 0 {
		return nil
	}
	return c.inner.Set(ctx, tokenNamespace+token, ownerID, ttl).Err()
}

// TokenOwner returns the cached owner of token or ErrCacheMiss.
func (c *Client) TokenOwner(ctx context.Context, token string) (string, error) {
	if c == nil || c.inner == nil {
		return "", errors.New("redis client not initialized")
	}
	owner, err := c.inner.Get(ctx, tokenNamespace+token).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case err != nil:
		return "", err
	case owner == "":
		return "", ErrCacheMiss
	}
	return owner, nil
}

// ForgetTokens drops every listed token in a single round trip.
func (c *Client) ForgetTokens(ctx context.Context, tokens ...string) error {
	if c == nil || c.inner == nil {
		return errors.New("redis client not initialized")
	}
	if len(tokens) == 0 {
		return nil
	}
	_, err := c.inner.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range tokens {
			pipe.Unlink(ctx, tokenNamespace+token)
		}
		return nil
	})
	return err
}

// Ping reports whether redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errors.New("redis client not initialized")
	}
	if err := c.inner.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes the underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}

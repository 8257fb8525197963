// Package retry provides retry-with-backoff and circuit-breaker wrappers;
// internal/sink uses them around its write path.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Config controls retry attempts and backoff growth.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig mirrors the ingestion reconnect default (5s initial delay).
var DefaultConfig = Config{
	MaxRetries:     5,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     60 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps an arbitrary operation with retry, backoff-with-jitter, and
// transient-error classification.
type Client struct {
	logger *log.Logger
	config Config
}

// NewClient creates a Client with the given optional config; zero or
// negative durations and a negative MaxRetries fall back to DefaultConfig
// (a MaxRetries of 0 is kept and means a single attempt).
func NewClient(logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{logger: logger, config: cfg}
}

// Do runs op, retrying with exponential backoff and jitter while the error
// classifies as transient, up to MaxRetries retries (MaxRetries+1 attempts)
// within Timeout.
func (c *Client) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return fmt.Errorf("%s timed out after %v: %w", name, c.config.Timeout, opCtx.Err())
		default:
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		}

		err := op(opCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Printf("%s attempt %d/%d failed: %v", name, attempt+1, c.config.MaxRetries+1, err)

		if isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("%s: transient error, retrying in %v", name, backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-opCtx.Done():
				return fmt.Errorf("%s timed out during backoff: %w", name, opCtx.Err())
			case <-ctx.Done():
				return fmt.Errorf("%s canceled during backoff: %w", name, ctx.Err())
			}
			continue
		}
		break
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

var transientPatterns = []string{
	"timeout", "i/o timeout", "connection refused", "connection reset",
	"temporary failure", "temporarily unavailable", "server error",
	"rate limit", "429", "502", "503", "504", "network", "dns", "tcp",
	"no such host", "deadline exceeded", "tls handshake", "broken pipe", "eof",
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// NewBreaker wraps the named operation in a gobreaker circuit breaker:
// trips open after 5 consecutive failures, half-opens after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

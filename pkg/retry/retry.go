// Package retry runs operations against the database and the search index
// with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, +/- share of the delay
	MaxSameErrorType int     // consecutive same-type errors before giving up; 0 disables
}

// DefaultConfig returns the defaults for single queries:
// 3 retries from 100ms, doubling, capped at 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// StartupConfig waits roughly a minute for a dependency that is still
// starting, e.g. Postgres or Elasticsearch in a compose stack.
func StartupConfig() *Config {
	return &Config{
		MaxRetries:   10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// DoWithResult calls fn until it succeeds or the retries are exhausted and
// returns the last result and error. Context cancellation interrupts the
// wait between attempts.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, fn, nil)
}

// DoIfRetryable retries only transient errors. Permanent errors, and a
// transient error that keeps recurring MaxSameErrorType times, return
// immediately.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	var (
		lastType  string
		sameCount int
	)
	giveUp := func(err error, maxSame int) error {
		if !IsRetryable(err) {
			return err
		}
		t := classifyErrorType(err)
		if t != lastType {
			lastType, sameCount = t, 1
			return nil
		}
		sameCount++
		if maxSame > 0 && sameCount >= maxSame {
			return fmt.Errorf("repeated error (%d times, type=%s): %w", sameCount, t, err)
		}
		return nil
	}
	_, err := run(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	}, giveUp)
	return err
}

// run drives the attempts. stop, when set, inspects each failure and returns
// a non-nil error to end the loop with.
func run[T any](ctx context.Context, cfg *Config, fn func() (T, error), stop func(err error, maxSame int) error) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result  T
		lastErr error
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if stop != nil {
			if final := stop(err, cfg.MaxSameErrorType); final != nil {
				return result, final
			}
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(applyJitter(delay, cfg.JitterFactor)):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, lastErr
}

// RetryableError is implemented by errors that declare their retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"the database system is starting up",
	// search index statuses
	"429",
	"502",
	"503",
	"504",
	"too many requests",
	"service unavailable",
	"circuit_breaking_exception",
	"es_rejected_execution_exception",
}

// IsRetryable reports whether err is transient. Errors that declare their
// retryability win, then pgx's own verdict, network timeouts, and finally
// known message patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType buckets an error so repeats of the same failure can be
// detected.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}
	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "429"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "rejected_execution"):
		return "rate_limit"
	}
	return "unknown"
}

package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"
)

/*
	Retry utils with following feature:
	- exponential backoff
	- jitter
	- max attempts
	- max timeout

	Retries up to either MaxAttempts or till Timeout or RetryOn returns false. The time interval between the i-th and (i+1)-th
	attempt is `min( BaseDelay * ( Exp ^ i + rand[0, Jitter) ), MaxBackoff )`
*/

// RetryOnFn decides whether to retry on given error
type RetryOnFn func(error) bool

type retryConfig struct {
	MaxAttempts int64         // retries after the first call
	MaxBackoff  time.Duration // maximum wait time before next attempt
	Timeout     time.Duration // zero means no timeout
	Jitter      float64
	BaseDelay   time.Duration
	Exp         float64
	RetryOn     RetryOnFn
}

type RetryOption func(*retryConfig)

func defaultRetryConfig() *retryConfig {
	return &retryConfig{
		MaxAttempts: math.MaxInt64,
		MaxBackoff:  time.Duration(math.MaxInt64),
		Exp:         1,
		RetryOn:     func(error) bool { return false },
	}
}

func WithMaxAttempts(a int64) RetryOption {
	return func(c *retryConfig) {
		c.MaxAttempts = a
	}
}

func WithTimeout(t time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.Timeout = t
	}
}

func WithJitter(j float64) RetryOption {
	return func(c *retryConfig) {
		c.Jitter = j
	}
}

func WithBaseDelay(t time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.BaseDelay = t
	}
}

func WithExp(e float64) RetryOption {
	return func(c *retryConfig) {
		c.Exp = e
	}
}

func WithRetryOn(f RetryOnFn) RetryOption {
	return func(c *retryConfig) {
		c.RetryOn = f
	}
}

func WithMaxBackoff(b time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.MaxBackoff = b
	}
}

// Retry calls f until it succeeds or the configured strategy gives up, and returns the last error of f.
// It returns ErrRetryTimedOut if the configured timeout or ctx expires first.
func Retry(ctx context.Context, f func() error, opts ...RetryOption) error {
	cfg := defaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	// fire f first in case it doesn't need retry at all
	err := f()
	if err == nil || !cfg.RetryOn(err) {
		return err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	for i := int64(0); i < cfg.MaxAttempts; i++ {
		t := time.NewTimer(cfg.delay(i))
		select {
		case <-t.C:
			err = f()
			if err == nil || !cfg.RetryOn(err) {
				return err
			}
		case <-ctx.Done():
			t.Stop()
			return ErrRetryTimedOut
		}
	}
	return err
}

func (c *retryConfig) delay(i int64) time.Duration {
	factor := math.Pow(c.Exp, float64(i))
	if c.Jitter > 0 {
		factor += rand.Float64() * c.Jitter
	}
	// cap the delay to the max of time.Duration, which is ~290 years
	d := time.Duration(math.Min(float64(c.BaseDelay.Nanoseconds())*factor, math.MaxInt64))
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// IsDepOffline tells if e indicates the dependency is not (yet) accepting connections
func IsDepOffline(e error) bool {
	if e == nil {
		return false
	}
	msg := e.Error()
	return strings.Contains(msg, "connect: connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

type errRetry string

func (e errRetry) Error() string {
	return string(e)
}

const ErrRetryTimedOut errRetry = "retry timed out"

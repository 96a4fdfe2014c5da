package simulation

import (
	"context"
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"nestedLiquidity/internal/model"
)

// RetryConfig bounds retries of remote backends on transport failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Retrying retries a remote simulator with exponential backoff. Reverts
// are deterministic and returned at once.
type Retrying struct {
	next   Simulator
	cfg    RetryConfig
	logger *zap.Logger
}

func NewRetrying(next Simulator, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

func (s *Retrying) Simulate(ctx context.Context, req Request) ([]*big.Int, error) {
	var out []*big.Int
	attempt := 0
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.BaseDelay, func(ctx context.Context) error {
		var err error
		out, err = s.next.Simulate(ctx, req)
		if err != nil && retryable(err) {
			attempt++
			s.logger.Debug("simulation failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if err != nil {
			return permanent{err}
		}
		return nil
	})
	var p permanent
	if errors.As(err, &p) {
		return nil, p.err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func retryable(err error) bool {
	return !errors.Is(err, model.ErrSimulationRevert) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// permanent stops withRetry early.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) || attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

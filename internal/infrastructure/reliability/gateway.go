package reliability

import (
	"context"
	"errors"

	"studyroom/internal/core/domain"
	"studyroom/pkg/circuitbreaker"
	rlog "studyroom/pkg/logger"
	"studyroom/pkg/retry"

	"go.uber.org/zap"
)

// terminal errors are business outcomes, not gateway failures: they are never
// retried and never trip the circuit breaker.
var terminal = []error{
	domain.ErrRoomNotFound,
	domain.ErrRoomFull,
	domain.ErrAlreadyMember,
	domain.ErrNotMember,
	domain.ErrStreakNotFound,
	domain.ErrConflict,
}

// Gateway funnels persistence calls through retry logic and a circuit
// breaker, so a struggling data store is backed off and eventually shed.
type Gateway struct {
	logger *zap.SugaredLogger
	ctxLog *rlog.ContextLogger

	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

// NewGateway creates a new wrapper with retry and circuit breaker
func NewGateway(retryConfig retry.Config, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *Gateway {
	retryConfig.Terminal = append(retryConfig.Terminal, terminal...)

	g := &Gateway{
		logger:      logger,
		ctxLog:      rlog.NewContextLogger(logger.Desugar()),
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(cbConfig),
	}

	g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("gateway circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return g
}

// Do executes a gateway call with bounded backoff behind the breaker.
func (g *Gateway) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var terminalErr error

	err := g.breaker.Execute(ctx, func() error {
		err := retry.Do(ctx, g.retryConfig, func() error {
			return fn(ctx)
		})
		if err != nil && isTerminal(err) {
			terminalErr = err
			return nil
		}
		return err
	})

	if terminalErr != nil {
		return terminalErr
	}
	if err != nil {
		// The context names the room and user the call was made for.
		g.ctxLog.WithContext(ctx).Sugar().Warnw("gateway call failed", "op", op, "error", err)
	}
	return err
}

// DoWithResult executes a gateway call returning a value.
func DoWithResult[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func isTerminal(err error) bool {
	for _, t := range terminal {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

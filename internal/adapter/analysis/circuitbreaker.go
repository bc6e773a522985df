package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"lookback/internal/domain"
	"lookback/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerService wraps an AnalysisService with circuit breaker
// protection. When the API fails repeatedly, the circuit opens and cycles
// fail fast without burning rate budget on a dead endpoint.
type CircuitBreakerService struct {
	inner   domain.AnalysisService
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewCircuitBreakerService wraps inner with a circuit breaker. Zero-valued
// settings fall back to defaults.
func NewCircuitBreakerService(inner domain.AnalysisService, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerService {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "analysis",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerService{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Analyze implements domain.AnalysisService through the breaker.
func (s *CircuitBreakerService) Analyze(ctx context.Context, image []byte, contextText string) (domain.Analysis, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		return s.inner.Analyze(ctx, image, contextText)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.Analysis{}, fmt.Errorf("analysis circuit open: %w", err)
		}
		return domain.Analysis{}, err
	}
	return res.(domain.Analysis), nil
}

// Summarize implements domain.AnalysisService through the breaker.
func (s *CircuitBreakerService) Summarize(ctx context.Context, query string, activities []domain.CycleResult) (string, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		return s.inner.Summarize(ctx, query, activities)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("analysis circuit open: %w", err)
		}
		return "", err
	}
	return res.(string), nil
}

// State returns the current circuit breaker state for monitoring.
func (s *CircuitBreakerService) State() gobreaker.State {
	return s.breaker.State()
}

var _ domain.AnalysisService = (*CircuitBreakerService)(nil)

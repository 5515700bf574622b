package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
)

// BreakerConfig configures the circuit breaker guarding stream opens.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed opens before the circuit opens.
	MaxFailures uint32 `koanf:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration `koanf:"timeout"`
}

// Breaker fails stream opens fast after repeated backend failures. It never
// retries; a rejected open surfaces as an Error with reason "circuit open".
type Breaker struct {
	cb *gobreaker.CircuitBreaker[*http.Response]
}

// NewBreaker creates a Breaker. Zero config fields fall back to defaults.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "stream-open",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: isBreakerSuccess,
	})
	return &Breaker{cb: cb}
}

// State reports the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) do(fn func() (*http.Response, error)) (*http.Response, error) {
	resp, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, newReasonError("circuit open", err)
	}
	return resp, err
}

// Client errors and cancellations say nothing about backend health.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrAborted) {
		return true
	}
	var te *Error
	if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 {
		return true
	}
	return false
}

package broker

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// transientError marks an error as retryable regardless of its text.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// transientKeywords is the fallback heuristic for wrapped foreign errors
// whose type information has been lost.
var transientKeywords = []string{
	"timeout", "connection", "network", "temporary", "unavailable", "rate limit",
}

// IsTransient classifies an error for the retry policy. Typed checks come
// first; the keyword match is a last resort.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, amqp.ErrClosed) ||
		errors.Is(err, ErrTransportUnavailable) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Circuit breaker bounds for error-notification emission.
const (
	errorBreakerLimit  = 5
	errorBreakerWindow = 60 * time.Second
)

// errorBreaker is a sliding-window rate limiter for error notifications.
type errorBreaker struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	recent []time.Time
}

func newErrorBreaker(limit int, window time.Duration) *errorBreaker {
	return &errorBreaker{limit: limit, window: window, now: time.Now}
}

// allow reports whether another error notification may be emitted now, and
// records the emission if so.
func (b *errorBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.window)
	kept := b.recent[:0]
	for _, t := range b.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.recent = kept

	if len(b.recent) >= b.limit {
		return false
	}
	b.recent = append(b.recent, b.now())
	return true
}

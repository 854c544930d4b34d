package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict says how a failed call counts against its breaker.
type Verdict uint8

const (
	// Answer is a deliberate refusal from the remote or a caller cancellation.
	Answer Verdict = iota
	// Fault counts against the breaker.
	Fault
	// Transient counts against the breaker and may be resent when the policy
	// has Resends.
	Transient
)

type Classifier func(err error) Verdict

// Guard keeps one circuit breaker per operation of a remote dependency.
// A call is made once and its first failure is returned, unless the policy
// allows resends.
type Guard struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy:   policy.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (g *Guard) Do(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return errors.New("resilience: nil call")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if classify == nil {
		classify = func(error) Verdict { return Fault }
	}

	name := g.name(operation)
	if g.policy.Breaker.Disabled {
		return g.call(ctx, name, fn, classify)
	}
	_, err := g.breaker(name, classify).Execute(func() (struct{}, error) {
		return struct{}{}, g.call(ctx, name, fn, classify)
	})
	return err
}

func (g *Guard) call(ctx context.Context, name string, fn func(context.Context) error, classify Classifier) error {
	err := fn(ctx)
	for resend := 1; err != nil && resend <= g.policy.Resends; resend++ {
		if classify(err) != Transient {
			return err
		}
		slog.Warn("remote_call_resend",
			"operation", name,
			"resend", resend,
			"pause_ms", g.policy.ResendPause.Milliseconds(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(g.policy.ResendPause):
		}
		err = fn(ctx)
	}
	return err
}

func (g *Guard) name(operation string) string {
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if g.policy.Scope == "" || strings.HasPrefix(op, g.policy.Scope+".") {
		return op
	}
	return g.policy.Scope + "." + op
}

func (g *Guard) breaker(name string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[name]; ok {
		return cb
	}
	bp := g.policy.Breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: bp.HalfOpenCalls,
		Timeout:     bp.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bp.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bp.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == Answer
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	g.breakers[name] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

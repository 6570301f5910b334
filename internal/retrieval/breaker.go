package retrieval

import (
	"time"

	"github.com/sony/gobreaker"

	"mnemex/internal/config"
	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/types"
)

// breakerBank holds one circuit breaker per recall strategy, so a struggling
// vector index doesn't also throttle keyword or graph recall. New component:
// the teacher has no circuit breaker of its own, so this is built directly
// on sony/gobreaker, the breaker library already present (indirectly) in the
// examples pack's dependency graph.
type breakerBank struct {
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerBank(cfg config.CircuitBreakerConfig, strategies []string) *breakerBank {
	minVolume := cfg.MinVolume
	if minVolume <= 0 {
		minVolume = 5
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 0.5
	}
	coolDown := time.Duration(cfg.CoolDownMs) * time.Millisecond
	if coolDown <= 0 {
		coolDown = 60 * time.Second
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 1
	}

	bank := &breakerBank{breakers: make(map[string]*gobreaker.CircuitBreaker, len(strategies))}
	for _, strategy := range strategies {
		settings := gobreaker.Settings{
			Name:        "retrieval." + strategy,
			MaxRequests: uint32(successThreshold),
			Interval:    0, // never force-reset a Closed breaker's counts; only a state change does
			Timeout:     coolDown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if int(counts.Requests) < minVolume {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= failureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Get(logging.CategoryRetrieval).Info("%s: %s -> %s", name, from, to)
			},
		}
		bank.breakers[strategy] = gobreaker.NewCircuitBreaker(settings)
	}
	return bank
}

// execute runs fn through strategy's breaker. A breaker that is Open or has
// exhausted its Half-Open probe budget fails fast with errs.CircuitOpen
// instead of calling fn at all.
func (b *breakerBank) execute(strategy string, fn func() ([]types.RecallResult, error)) ([]types.RecallResult, error) {
	cb, ok := b.breakers[strategy]
	if !ok {
		return fn()
	}
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errs.Wrap(errs.CircuitOpen, "circuit_open", strategy+" strategy circuit is open", err)
		}
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.([]types.RecallResult), nil
}

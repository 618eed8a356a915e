package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// randSource is a mutex-guarded random generator shared by the scope
// functions.
type randSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *randSource) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// scopeFunctions returns random and prf_random_states.
//
//	random(a, b)                       a + round(rand() * b)
//	prf_random_states(positions, p)    "PRFSTATE <hex>", each position ON with probability p (default 0.5)
func scopeFunctions(rnd *randSource, bits int) []rules.Function {
	return []rules.Function{
		{
			Name: "random",
			Fn: func(params ...any) (any, error) {
				if len(params) != 2 {
					return nil, fmt.Errorf("random: expected 2 arguments, got %d", len(params))
				}
				a, aInt, err := number(params[0])
				if err != nil {
					return nil, fmt.Errorf("random: %w", err)
				}
				b, bInt, err := number(params[1])
				if err != nil {
					return nil, fmt.Errorf("random: %w", err)
				}
				v := a + math.Round(rnd.Float64()*b)
				if aInt && bInt {
					return int64(v), nil
				}
				return v, nil
			},
		},
		{
			Name: "prf_random_states",
			Fn: func(params ...any) (any, error) {
				if len(params) < 1 || len(params) > 2 {
					return nil, fmt.Errorf("prf_random_states: expected 1 or 2 arguments, got %d", len(params))
				}
				positions, ok := rules.Normalize(params[0]).([]any)
				if !ok {
					return nil, fmt.Errorf("prf_random_states: positions must be a list, got %s", rules.TypeName(params[0]))
				}
				onProb := 0.5
				if len(params) == 2 {
					p, _, err := number(params[1])
					if err != nil {
						return nil, fmt.Errorf("prf_random_states: %w", err)
					}
					onProb = p
				}

				states := make(map[int]bool, len(positions))
				for _, raw := range positions {
					pos, isInt, err := number(raw)
					if err != nil || !isInt {
						return nil, fmt.Errorf("prf_random_states: position %v is not an integer", raw)
					}
					states[int(pos)] = rnd.Float64() < onProb
				}
				encoded, err := EncodePRFState(states, bits)
				if err != nil {
					return nil, err
				}
				return "PRFSTATE " + encoded, nil
			},
		},
	}
}

// number converts an expression argument to float64 and reports whether it
// was an integer.
func number(v any) (float64, bool, error) {
	switch n := rules.Normalize(v).(type) {
	case int64:
		return float64(n), true, nil
	case float64:
		return n, false, nil
	default:
		return 0, false, fmt.Errorf("expected number, got %s", rules.TypeName(v))
	}
}

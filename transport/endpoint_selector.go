package transport

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
)

// SelectionStrategy chooses among multiple configured Master endpoints
// during reconnect, per SPEC_FULL.md §4.2's endpoint failover addition.
type SelectionStrategy string

// SelectionStrategy constants.
const (
	StrategyRoundRobin SelectionStrategy = "round_robin"
	StrategyRandom     SelectionStrategy = "random"
	StrategySticky     SelectionStrategy = "sticky" // sticky-on-success: keep last successful endpoint
)

// EndpointSelector picks among a fixed set of Master endpoints, adapted
// from proxy/selector.go's pool-selection shape (round-robin/random/sticky
// over a named pool of targets) to a single unnamed pool of HA endpoints.
type EndpointSelector struct {
	mu        sync.Mutex
	endpoints []string
	strategy  SelectionStrategy

	rrIndex int
	sticky  int // index of the last successful endpoint, -1 if none yet
}

// NewEndpointSelector creates a selector over endpoints using strategy.
// Returns an error if endpoints is empty.
func NewEndpointSelector(endpoints []string, strategy SelectionStrategy) (*EndpointSelector, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("transport: endpoint selector requires at least one endpoint")
	}
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &EndpointSelector{endpoints: endpoints, strategy: strategy, sticky: -1}, nil
}

// Next returns the endpoint to try next.
func (s *EndpointSelector) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.strategy {
	case StrategySticky:
		if s.sticky >= 0 {
			return s.endpoints[s.sticky], nil
		}
		return s.endpoints[0], nil
	case StrategyRandom:
		idx, err := s.randInt(len(s.endpoints))
		if err != nil {
			return "", err
		}
		return s.endpoints[idx], nil
	default: // StrategyRoundRobin
		idx := s.rrIndex % len(s.endpoints)
		s.rrIndex++
		return s.endpoints[idx], nil
	}
}

// MarkSuccess records that endpoint was successfully reached, so a sticky
// strategy keeps using it on the next reconnect.
func (s *EndpointSelector) MarkSuccess(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ep := range s.endpoints {
		if ep == endpoint {
			s.sticky = i
			return
		}
	}
}

// MarkFailure clears a sticky assignment to endpoint so the next Next()
// call rotates away from it.
func (s *EndpointSelector) MarkFailure(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sticky >= 0 && s.endpoints[s.sticky] == endpoint {
		s.sticky = -1
	}
}

// Endpoints returns a copy of the configured endpoint list.
func (s *EndpointSelector) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

func (s *EndpointSelector) randInt(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(bigIdx.Int64()), nil
}

// Package routing spreads deployment traffic across the connections bound to it.
package routing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/llmur/llmur/internal/metrics"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
)

// ErrNoConnections is returned when a deployment has nothing to route to.
var ErrNoConnections = errors.New("routing: deployment has no connections")

// Selection is a picked connection. Release must be called once the call finished.
type Selection struct {
	Connection models.Connection
	Weight     int

	release func()
	once    sync.Once
}

// Release ends the in-flight accounting for the selection.
func (s *Selection) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.once.Do(s.release)
}

type deploymentState struct {
	cursor atomic.Uint64

	mu       sync.Mutex
	inFlight map[string]*atomic.Int64
}

func (st *deploymentState) counter(connectionID string) *atomic.Int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.counterLocked(connectionID)
}

func (st *deploymentState) counterLocked(connectionID string) *atomic.Int64 {
	c := st.inFlight[connectionID]
	if c == nil {
		c = new(atomic.Int64)
		st.inFlight[connectionID] = c
	}
	return c
}

// Router owns per-deployment cursors and in-flight counters.
type Router struct {
	shared CursorStore

	mu     sync.Mutex
	states map[string]*deploymentState
}

// NewRouter constructs a Router. shared may be nil.
func NewRouter(shared CursorStore) *Router {
	return &Router{
		shared: shared,
		states: make(map[string]*deploymentState),
	}
}

// Select picks a connection for deployment with its strategy and marks it in flight.
func (r *Router) Select(ctx context.Context, deployment models.Deployment, candidates []store.WeightedConnection) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoConnections
	}
	ordered := make([]store.WeightedConnection, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Connection.ID < ordered[j].Connection.ID })

	st := r.state(deployment.ID)
	var picked store.WeightedConnection
	var inFlight *atomic.Int64
	switch deployment.Strategy {
	case models.StrategyLeastConnections, models.StrategyWeightedLeastConnections:
		picked, inFlight = pickLeast(st, ordered, deployment.Strategy == models.StrategyWeightedLeastConnections)
	case models.StrategyWeightedRoundRobin:
		picked = pickWeighted(ordered, r.next(ctx, deployment.ID, st))
		inFlight = st.counter(picked.Connection.ID)
		inFlight.Add(1)
	default:
		picked = ordered[r.next(ctx, deployment.ID, st)%uint64(len(ordered))]
		inFlight = st.counter(picked.Connection.ID)
		inFlight.Add(1)
	}

	metrics.RouterSelectionsTotal.WithLabelValues(deployment.Name, picked.Connection.ID).Inc()
	return &Selection{
		Connection: picked.Connection,
		Weight:     picked.Weight,
		release:    func() { inFlight.Add(-1) },
	}, nil
}

// InFlight returns the number of unreleased selections of a connection in a deployment.
func (r *Router) InFlight(deploymentID, connectionID string) int64 {
	r.mu.Lock()
	st := r.states[deploymentID]
	r.mu.Unlock()
	if st == nil {
		return 0
	}
	return st.counter(connectionID).Load()
}

// Forget drops the state of a deleted deployment.
func (r *Router) Forget(ctx context.Context, deploymentID string) {
	r.mu.Lock()
	delete(r.states, deploymentID)
	r.mu.Unlock()
	if r.shared != nil {
		_ = r.shared.Forget(ctx, deploymentID)
	}
}

func (r *Router) state(deploymentID string) *deploymentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[deploymentID]
	if st == nil {
		st = &deploymentState{inFlight: make(map[string]*atomic.Int64)}
		r.states[deploymentID] = st
	}
	return st
}

func (r *Router) next(ctx context.Context, deploymentID string, st *deploymentState) uint64 {
	if r.shared != nil {
		if v, err := r.shared.Next(ctx, deploymentID); err == nil {
			return v
		}
	}
	return st.cursor.Add(1) - 1
}

// pickWeighted maps a cursor onto cumulative weight slots, {A:2,B:1} giving A,A,B.
func pickWeighted(ordered []store.WeightedConnection, cursor uint64) store.WeightedConnection {
	var total uint64
	for _, c := range ordered {
		if c.Weight > 0 {
			total += uint64(c.Weight)
		}
	}
	if total == 0 {
		return ordered[cursor%uint64(len(ordered))]
	}
	pos := cursor % total
	for _, c := range ordered {
		if c.Weight <= 0 {
			continue
		}
		if pos < uint64(c.Weight) {
			return c
		}
		pos -= uint64(c.Weight)
	}
	return ordered[len(ordered)-1]
}

// pickLeast picks the connection with the fewest in-flight calls, optionally scaled by weight.
// The pick and the increment happen under the deployment lock.
func pickLeast(st *deploymentState, ordered []store.WeightedConnection, weighted bool) (store.WeightedConnection, *atomic.Int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	best := -1
	var bestLoad float64
	for i, c := range ordered {
		load := float64(st.counterLocked(c.Connection.ID).Load())
		if weighted {
			w := c.Weight
			if w <= 0 {
				w = 1
			}
			load /= float64(w)
		}
		if best < 0 || load < bestLoad {
			best = i
			bestLoad = load
		}
	}
	picked := ordered[best]
	counter := st.counterLocked(picked.Connection.ID)
	counter.Add(1)
	return picked, counter
}

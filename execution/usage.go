package execution

import (
	"sync"

	"github.com/parleyhq/parley/model"
)

// UsageAccumulator aggregates token usage across turns for one backend
// instance. Updated exactly once per completed turn, from the terminal
// response or job object.
type UsageAccumulator struct {
	mu    sync.Mutex
	total model.Usage
	turns int
}

// AddTurn folds one turn's terminal usage into the running total.
func (a *UsageAccumulator) AddTurn(u model.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.Add(u)
	a.turns++
}

// Total returns the accumulated usage.
func (a *UsageAccumulator) Total() model.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Turns returns how many turns have reported usage.
func (a *UsageAccumulator) Turns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns
}

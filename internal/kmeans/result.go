package kmeans

import "math"

// Result is the lowest-cost assignment found across restarts.
type Result struct {
	Cost       float64
	Assignment []uint16
	// Restart is the index of the winning restart within the worker that
	// produced it.
	Restart int
	// Rank is the worker that produced the winning restart.
	Rank int
}

// Best tracks the best-so-far result of a restart loop.
type Best struct {
	cost       float64
	restart    int
	assignment []uint16
}

// NewBest returns a tracker for assignments of n points. A nil buffer is
// kept when n is negative, for workers that never hold the winner.
func NewBest(n int) *Best {
	b := &Best{cost: math.Inf(1), restart: -1}
	if n >= 0 {
		b.assignment = make([]uint16, n)
	}
	return b
}

// Offer records cost for restart if it is strictly lower than the best so
// far, calling fill to write the winning assignment into the tracker's
// buffer. It reports whether the result was kept.
func (b *Best) Offer(cost float64, restart int, fill func(dst []uint16) error) (bool, error) {
	if !(cost < b.cost) {
		return false, nil
	}
	if err := fill(b.assignment); err != nil {
		return false, err
	}
	b.cost = cost
	b.restart = restart
	return true, nil
}

// Cost returns the best cost, +Inf if nothing was offered.
func (b *Best) Cost() float64 {
	return b.cost
}

// Restart returns the index of the best restart, -1 if none.
func (b *Best) Restart() int {
	return b.restart
}

// Assignment returns the tracker's buffer.
func (b *Best) Assignment() []uint16 {
	return b.assignment
}

// Result snapshots the tracker for the given worker rank.
func (b *Best) Result(rank int) *Result {
	return &Result{
		Cost:       b.cost,
		Assignment: b.assignment,
		Restart:    b.restart,
		Rank:       rank,
	}
}

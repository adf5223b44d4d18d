// Package coord defines the collective operations workers use to cooperate
// on a clustering run, and the in-process substrates that implement them.
//
// Every collective is blocking: all workers of a group must make the same
// sequence of calls. Reductions combine contributions in ascending rank
// order, so every worker of every substrate observes bit-identical results.
package coord

import (
	"errors"
	"fmt"
)

var (
	// ErrRankOutOfRange is returned when a rank is not a member of the group.
	ErrRankOutOfRange = errors.New("rank out of range")

	// ErrLengthMismatch is returned when workers contribute buffers of different lengths.
	ErrLengthMismatch = errors.New("buffer length mismatch")
)

// MinLoc is the result of a minimum-with-location reduction.
type MinLoc struct {
	Value float64
	Rank  int
}

// Communicator is one worker's handle on its group.
type Communicator interface {
	// Rank is this worker's identity in [0, Size()).
	Rank() int
	// Size is the number of workers in the group.
	Size() int

	// Barrier blocks until every worker has called it.
	Barrier() error

	// SumFloat64s replaces buf with the element-wise sum of every worker's buf.
	SumFloat64s(buf []float64) error
	// SumUint32s replaces buf with the element-wise sum of every worker's buf.
	SumUint32s(buf []uint32) error
	// All returns the logical AND of v across workers.
	All(v bool) (bool, error)
	// MinLoc returns the lowest v and the rank holding it. Ties go to the
	// lowest rank.
	MinLoc(v float64) (MinLoc, error)

	// BroadcastFloat64s copies root's buf into every other worker's buf.
	BroadcastFloat64s(root int, buf []float64) error
	// BroadcastUint32s copies root's buf into every other worker's buf.
	BroadcastUint32s(root int, buf []uint32) error

	// ScatterFloat64s hands worker r the counts[r] values of send starting
	// at the sum of counts[:r]. send and counts are only read on root.
	ScatterFloat64s(root int, send []float64, counts []int, recv []float64) error
	// GatherUint16s places every worker's send into root's recv, worker r
	// at the sum of counts[:r]. counts and recv are only read on root.
	GatherUint16s(root int, send []uint16, counts []int, recv []uint16) error

	// SendUint16s transfers buf to worker to, which must call RecvUint16s.
	SendUint16s(to int, buf []uint16) error
	// RecvUint16s fills buf with a transfer from worker from.
	RecvUint16s(from int, buf []uint16) error

	// Close releases the worker's resources.
	Close() error
}

func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: %d of %d", ErrRankOutOfRange, rank, size)
	}
	return nil
}

// Displacements returns the running offsets of counts.
func Displacements(counts []int) []int {
	displs := make([]int, len(counts))
	offset := 0
	for i, c := range counts {
		displs[i] = offset
		offset += c
	}
	return displs
}

// CombineMinLoc folds b into a, preferring the lower value and then the
// lower rank.
func CombineMinLoc(a, b MinLoc) MinLoc {
	if b.Value < a.Value || (b.Value == a.Value && b.Rank < a.Rank) {
		return b
	}
	return a
}

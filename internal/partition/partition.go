// Package partition splits a contiguous range of items across a fixed set
// of workers.
package partition

// Range is the slice of items owned by one worker.
type Range struct {
	Offset int
	Length int
}

// End returns the exclusive upper bound of the range.
func (r Range) End() int {
	return r.Offset + r.Length
}

// Of returns the range of total items owned by worker id out of workers.
// The first total%workers workers receive one extra item. workers must be
// positive and id must be in [0, workers).
func Of(total, workers, id int) Range {
	if workers <= 0 || id < 0 || id >= workers {
		panic("partition: worker id out of range")
	}
	chunk := total / workers
	rem := total % workers
	length := chunk
	if id < rem {
		length++
	}
	return Range{
		Offset: id*chunk + min(id, rem),
		Length: length,
	}
}

// All returns the ranges of every worker in id order.
func All(total, workers int) []Range {
	ranges := make([]Range, workers)
	for id := range ranges {
		ranges[id] = Of(total, workers, id)
	}
	return ranges
}

// Counts returns the per-worker lengths scaled by stride, suitable as the
// counts argument of a scatter or gather over rows of stride elements.
func Counts(total, workers, stride int) []int {
	counts := make([]int, workers)
	for id := range counts {
		counts[id] = Of(total, workers, id).Length * stride
	}
	return counts
}

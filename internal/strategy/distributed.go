package strategy

import (
	"fmt"
	"math"
	"slices"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/kmeans"
	"github.com/vexsearch/kmeans/internal/partition"
)

// frameFloats bounds the values moved by one collective call while points
// are distributed, keeping every message well under the transport's frame
// limit.
var frameFloats = 1 << 24

// Distributed runs kind on one worker of a message-passing group where only
// rank 0 has read the input. Rank 0 broadcasts the shape of the point set,
// then scatters each worker its partition (grouped) or broadcasts every
// point (replicated). points is ignored on other ranks.
func Distributed(comm coord.Communicator, kind Kind, points *kmeans.PointSet, p Params) (*kmeans.Result, error) {
	rank := comm.Rank()

	shape := make([]uint32, 2)
	if rank == 0 {
		if points == nil {
			return nil, fmt.Errorf("%w: rank 0 holds no points", ErrShardMismatch)
		}
		if uint64(points.Len()) > math.MaxUint32 || uint64(points.Dim()) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d points of dimension %d", kmeans.ErrInvalidDimensions, points.Len(), points.Dim())
		}
		shape[0], shape[1] = uint32(points.Len()), uint32(points.Dim())
	}
	if err := comm.BroadcastUint32s(0, shape); err != nil {
		return nil, fmt.Errorf("broadcast shape: %w", err)
	}
	total, dim := int(shape[0]), int(shape[1])

	switch kind {
	case KindGrouped:
		shard, err := scatterShard(comm, points, total, dim)
		if err != nil {
			return nil, err
		}
		return Grouped(comm, shard, p)

	case KindReplicated:
		if rank != 0 {
			data := make([]float64, total*dim)
			if err := broadcastPoints(comm, data); err != nil {
				return nil, err
			}
			local, err := kmeans.NewPointSet(data, dim)
			if err != nil {
				return nil, err
			}
			return Replicated(comm, local, p)
		}
		if err := broadcastPoints(comm, points.Data()); err != nil {
			return nil, err
		}
		return Replicated(comm, points, p)

	default:
		return nil, fmt.Errorf("%w: %q on a process group", ErrUnknownKind, kind)
	}
}

// broadcastPoints copies rank 0's data into every other rank's data in
// pieces of at most frameFloats values. Every rank must pass the same length.
func broadcastPoints(comm coord.Communicator, data []float64) error {
	for off := 0; off < len(data); off += frameFloats {
		end := min(off+frameFloats, len(data))
		if err := comm.BroadcastFloat64s(0, data[off:end]); err != nil {
			return fmt.Errorf("broadcast points [%d,%d): %w", off, end, err)
		}
	}
	return nil
}

func scatterShard(comm coord.Communicator, points *kmeans.PointSet, total, dim int) (Shard, error) {
	rank, size := comm.Rank(), comm.Size()
	counts := partition.Counts(total, size, dim)
	displs := coord.Displacements(counts)

	recv := make([]float64, counts[rank])
	// Each round hands every rank the next frameFloats values of its part.
	rounds := max(1, (slices.Max(counts)+frameFloats-1)/frameFloats)
	part := make([]int, size)
	var send []float64
	for round := 0; round < rounds; round++ {
		off := round * frameFloats
		for r := range part {
			part[r] = min(max(counts[r]-off, 0), frameFloats)
		}
		if rank == 0 {
			send = send[:0]
			for r := range part {
				start := displs[r] + off
				send = append(send, points.Data()[start:start+part[r]]...)
			}
		}
		at := min(off, len(recv))
		dst := recv[at : at+part[rank]]
		if err := comm.ScatterFloat64s(0, send, part, dst); err != nil {
			return Shard{}, fmt.Errorf("scatter points round %d: %w", round, err)
		}
	}
	local, err := kmeans.NewPointSet(recv, dim)
	if err != nil {
		return Shard{}, err
	}

	shard := Shard{Points: local, Total: total}
	if rank == 0 {
		shard.Full = points
	}
	return shard, nil
}

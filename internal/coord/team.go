package coord

import (
	"fmt"
	"sync"
)

// Team is a fixed-size group of goroutine workers sharing one address
// space. Collectives meet at a generation barrier: each worker publishes
// its contribution in its own slot, waits for the rest, reads every slot,
// and waits again before any slot can be reused.
type Team struct {
	size int

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation uint64

	slots []any
	// mail[from][to] carries point-to-point transfers.
	mail [][]chan []uint16
}

// NewTeam creates a team of size workers.
func NewTeam(size int) *Team {
	if size <= 0 {
		panic("coord: team size must be positive")
	}
	t := &Team{
		size:  size,
		slots: make([]any, size),
		mail:  make([][]chan []uint16, size),
	}
	t.cond = sync.NewCond(&t.mu)
	for from := range t.mail {
		t.mail[from] = make([]chan []uint16, size)
		for to := range t.mail[from] {
			t.mail[from][to] = make(chan []uint16, 1)
		}
	}
	return t
}

// Size returns the number of workers in the team.
func (t *Team) Size() int {
	return t.size
}

// Member returns the Communicator of worker rank. Each worker must use
// its own member from its own goroutine.
func (t *Team) Member(rank int) Communicator {
	if err := checkRank(rank, t.size); err != nil {
		panic(err)
	}
	return &member{team: t, rank: rank}
}

func (t *Team) await() {
	t.mu.Lock()
	defer t.mu.Unlock()
	gen := t.generation
	t.arrived++
	if t.arrived == t.size {
		t.arrived = 0
		t.generation++
		t.cond.Broadcast()
		return
	}
	for gen == t.generation {
		t.cond.Wait()
	}
}

// exchange publishes v, lets every worker read all slots through read, and
// returns once nobody reads the slots anymore.
func (t *Team) exchange(rank int, v any, read func(slots []any)) {
	t.slots[rank] = v
	t.await()
	read(t.slots)
	t.await()
}

type member struct {
	team *Team
	rank int

	f64 []float64
	u32 []uint32
}

type scatterSlot struct {
	send   []float64
	counts []int
}

type gatherSlot struct {
	counts []int
	recv   []uint16
}

func (m *member) Rank() int    { return m.rank }
func (m *member) Size() int    { return m.team.size }
func (m *member) Close() error { return nil }

func (m *member) Barrier() error {
	m.team.await()
	return nil
}

func (m *member) SumFloat64s(buf []float64) error {
	m.f64 = resize(m.f64, len(buf))
	var err error
	m.team.exchange(m.rank, buf, func(slots []any) {
		clear(m.f64)
		for _, s := range slots {
			part := s.([]float64)
			if len(part) != len(buf) {
				err = fmt.Errorf("%w: sum of %d and %d values", ErrLengthMismatch, len(part), len(buf))
				return
			}
			for i, v := range part {
				m.f64[i] += v
			}
		}
	})
	if err != nil {
		return err
	}
	copy(buf, m.f64)
	return nil
}

func (m *member) SumUint32s(buf []uint32) error {
	m.u32 = resize(m.u32, len(buf))
	var err error
	m.team.exchange(m.rank, buf, func(slots []any) {
		clear(m.u32)
		for _, s := range slots {
			part := s.([]uint32)
			if len(part) != len(buf) {
				err = fmt.Errorf("%w: sum of %d and %d values", ErrLengthMismatch, len(part), len(buf))
				return
			}
			for i, v := range part {
				m.u32[i] += v
			}
		}
	})
	if err != nil {
		return err
	}
	copy(buf, m.u32)
	return nil
}

func (m *member) All(v bool) (bool, error) {
	all := true
	m.team.exchange(m.rank, v, func(slots []any) {
		for _, s := range slots {
			all = all && s.(bool)
		}
	})
	return all, nil
}

func (m *member) MinLoc(v float64) (MinLoc, error) {
	var result MinLoc
	m.team.exchange(m.rank, MinLoc{Value: v, Rank: m.rank}, func(slots []any) {
		result = slots[0].(MinLoc)
		for _, s := range slots[1:] {
			result = CombineMinLoc(result, s.(MinLoc))
		}
	})
	return result, nil
}

func (m *member) BroadcastFloat64s(root int, buf []float64) error {
	if err := checkRank(root, m.team.size); err != nil {
		return err
	}
	var err error
	m.team.exchange(m.rank, buf, func(slots []any) {
		if m.rank == root {
			return
		}
		src := slots[root].([]float64)
		if len(src) != len(buf) {
			err = fmt.Errorf("%w: broadcast of %d values into %d", ErrLengthMismatch, len(src), len(buf))
			return
		}
		copy(buf, src)
	})
	return err
}

func (m *member) BroadcastUint32s(root int, buf []uint32) error {
	if err := checkRank(root, m.team.size); err != nil {
		return err
	}
	var err error
	m.team.exchange(m.rank, buf, func(slots []any) {
		if m.rank == root {
			return
		}
		src := slots[root].([]uint32)
		if len(src) != len(buf) {
			err = fmt.Errorf("%w: broadcast of %d values into %d", ErrLengthMismatch, len(src), len(buf))
			return
		}
		copy(buf, src)
	})
	return err
}

func (m *member) ScatterFloat64s(root int, send []float64, counts []int, recv []float64) error {
	if err := checkRank(root, m.team.size); err != nil {
		return err
	}
	var err error
	m.team.exchange(m.rank, scatterSlot{send: send, counts: counts}, func(slots []any) {
		src := slots[root].(scatterSlot)
		if len(src.counts) != m.team.size || src.counts[m.rank] != len(recv) {
			err = fmt.Errorf("%w: scatter counts %v for %d values", ErrLengthMismatch, src.counts, len(recv))
			return
		}
		offset := Displacements(src.counts)[m.rank]
		copy(recv, src.send[offset:offset+len(recv)])
	})
	return err
}

func (m *member) GatherUint16s(root int, send []uint16, counts []int, recv []uint16) error {
	if err := checkRank(root, m.team.size); err != nil {
		return err
	}
	var err error
	// The root publishes its destination; every worker writes its own
	// disjoint range into it.
	m.team.exchange(m.rank, gatherSlot{counts: counts, recv: recv}, func(slots []any) {
		dst := slots[root].(gatherSlot)
		if len(dst.counts) != m.team.size || dst.counts[m.rank] != len(send) {
			err = fmt.Errorf("%w: gather counts %v for %d values", ErrLengthMismatch, dst.counts, len(send))
			return
		}
		offset := Displacements(dst.counts)[m.rank]
		copy(dst.recv[offset:offset+len(send)], send)
	})
	return err
}

func (m *member) SendUint16s(to int, buf []uint16) error {
	if err := checkRank(to, m.team.size); err != nil {
		return err
	}
	m.team.mail[m.rank][to] <- append([]uint16(nil), buf...)
	return nil
}

func (m *member) RecvUint16s(from int, buf []uint16) error {
	if err := checkRank(from, m.team.size); err != nil {
		return err
	}
	msg := <-m.team.mail[from][m.rank]
	if len(msg) != len(buf) {
		return fmt.Errorf("%w: received %d values into %d", ErrLengthMismatch, len(msg), len(buf))
	}
	copy(buf, msg)
	return nil
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

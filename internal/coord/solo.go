package coord

import "fmt"

// Solo is the Communicator of a group with a single worker.
type Solo struct {
	mail chan []uint16
}

// NewSolo returns a single-worker group.
func NewSolo() *Solo {
	return &Solo{mail: make(chan []uint16, 1)}
}

func (s *Solo) Rank() int                        { return 0 }
func (s *Solo) Size() int                        { return 1 }
func (s *Solo) Barrier() error                   { return nil }
func (s *Solo) SumFloat64s(buf []float64) error  { return nil }
func (s *Solo) SumUint32s(buf []uint32) error    { return nil }
func (s *Solo) All(v bool) (bool, error)         { return v, nil }
func (s *Solo) MinLoc(v float64) (MinLoc, error) { return MinLoc{Value: v}, nil }
func (s *Solo) Close() error                     { return nil }

func (s *Solo) BroadcastFloat64s(root int, buf []float64) error {
	return checkRank(root, 1)
}

func (s *Solo) BroadcastUint32s(root int, buf []uint32) error {
	return checkRank(root, 1)
}

func (s *Solo) ScatterFloat64s(root int, send []float64, counts []int, recv []float64) error {
	if err := checkRank(root, 1); err != nil {
		return err
	}
	if len(counts) != 1 || counts[0] != len(recv) {
		return fmt.Errorf("%w: scatter of %v into %d", ErrLengthMismatch, counts, len(recv))
	}
	copy(recv, send)
	return nil
}

func (s *Solo) GatherUint16s(root int, send []uint16, counts []int, recv []uint16) error {
	if err := checkRank(root, 1); err != nil {
		return err
	}
	if len(counts) != 1 || counts[0] != len(send) {
		return fmt.Errorf("%w: gather of %d with counts %v", ErrLengthMismatch, len(send), counts)
	}
	copy(recv, send)
	return nil
}

func (s *Solo) SendUint16s(to int, buf []uint16) error {
	if err := checkRank(to, 1); err != nil {
		return err
	}
	s.mail <- append([]uint16(nil), buf...)
	return nil
}

func (s *Solo) RecvUint16s(from int, buf []uint16) error {
	if err := checkRank(from, 1); err != nil {
		return err
	}
	msg := <-s.mail
	if len(msg) != len(buf) {
		return fmt.Errorf("%w: received %d values into %d", ErrLengthMismatch, len(msg), len(buf))
	}
	copy(buf, msg)
	return nil
}

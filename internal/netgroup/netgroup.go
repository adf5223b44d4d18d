// Package netgroup implements coord.Communicator over TCP.
//
// Workers form a star around rank 0, the hub. Every worker holds one
// connection to the hub; the hub combines reductions in ascending rank
// order and sends the result back, so results match the in-process team
// bit for bit. Frames are length-prefixed protobuf wire messages whose
// payloads are checksummed and, above a size threshold, zstd-compressed.
package netgroup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vexsearch/kmeans/internal/coord"
	"github.com/vexsearch/kmeans/internal/metrics"
)

const (
	// DefaultCompressThreshold is the payload size from which frames are compressed.
	DefaultCompressThreshold = 64 << 10

	dialRetryInterval = 100 * time.Millisecond
	handshakeTimeout  = 10 * time.Second
)

// Options tune a group's connections.
type Options struct {
	// Session identifies the run. The hub generates one when empty; a
	// worker with a non-empty Session refuses a hub announcing another.
	Session string
	// IOTimeout bounds each frame read and write. Zero waits forever.
	IOTimeout time.Duration
	// CompressThreshold is the payload size from which frames are
	// compressed. Zero selects DefaultCompressThreshold; negative disables.
	CompressThreshold int
}

func (o Options) threshold() int {
	switch {
	case o.CompressThreshold == 0:
		return DefaultCompressThreshold
	case o.CompressThreshold < 0:
		return 0
	default:
		return o.CompressThreshold
	}
}

// link is one TCP connection between the hub and a worker.
type link struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	codec   *codec

	// transfers counts point-to-point frames on this link, per direction.
	sent, received uint64
}

func newLink(conn net.Conn, c *codec, timeout time.Duration) *link {
	return &link{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 64<<10),
		w:       bufio.NewWriterSize(conn, 64<<10),
		timeout: timeout,
		codec:   c,
	}
}

func (l *link) send(f *frame) error {
	if l.timeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.timeout)); err != nil {
			return err
		}
	}
	b := l.codec.marshal(f)
	if err := writeFrame(l.w, b); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	metrics.AddWireBytes("out", len(b)+4)
	return nil
}

func (l *link) recv() (*frame, error) {
	if l.timeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.timeout)); err != nil {
			return nil, err
		}
	}
	b, err := readFrame(l.r)
	if err != nil {
		return nil, err
	}
	metrics.AddWireBytes("in", len(b)+4)
	return l.codec.unmarshal(b)
}

// expect receives a frame and checks its kind and sequence number.
func (l *link) expect(kind frameKind, seq uint64) (*frame, error) {
	f, err := l.recv()
	if err != nil {
		return nil, err
	}
	if f.kind != kind || f.seq != seq {
		return nil, fmt.Errorf("%w: got %s #%d, want %s #%d", ErrProtocol, f.kind, f.seq, kind, seq)
	}
	return f, nil
}

// Hub listens for the workers of a group and becomes its rank 0.
type Hub struct {
	ln      net.Listener
	opts    Options
	session string
}

// Announce starts listening on addr for workers.
func Announce(addr string, opts Options) (*Hub, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}
	return &Hub{ln: ln, opts: opts, session: session}, nil
}

// Addr returns the address workers should join.
func (h *Hub) Addr() string {
	return h.ln.Addr().String()
}

// Session returns the run identifier handed to every worker.
func (h *Hub) Session() string {
	return h.session
}

// Close stops listening. Accept closes the listener itself once the group
// is complete.
func (h *Hub) Close() error {
	return h.ln.Close()
}

// Accept waits until ranks 1 to size-1 have joined and returns the group
// as seen from rank 0. Connections with a bad hello are dropped.
func (h *Hub) Accept(ctx context.Context, size int) (*Group, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: group size %d", coord.ErrRankOutOfRange, size)
	}
	c, err := newCodec(h.opts.threshold())
	if err != nil {
		return nil, err
	}
	g := &Group{
		rank:    0,
		size:    size,
		session: h.session,
		codec:   c,
		links:   make([]*link, size),
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			h.ln.Close()
		case <-stop:
		}
	}()

	var rejected error
	for joined := 1; joined < size; {
		conn, err := h.ln.Accept()
		if err != nil {
			g.closeLinks()
			c.Close()
			if ctx.Err() != nil {
				return nil, errors.Join(ctx.Err(), rejected)
			}
			return nil, fmt.Errorf("accept: %w", err)
		}
		l := newLink(conn, c, h.opts.IOTimeout)
		conn.SetDeadline(time.Now().Add(handshakeTimeout))
		rank, err := h.handshake(l, size, g.links)
		if err != nil {
			rejected = err
			conn.Close()
			continue
		}
		conn.SetDeadline(time.Time{})
		g.links[rank] = l
		joined++
	}
	h.ln.Close()
	return g, nil
}

func (h *Hub) handshake(l *link, size int, links []*link) (int, error) {
	hello, err := l.expect(kindHello, 0)
	if err != nil {
		return 0, err
	}
	switch {
	case hello.size != size:
		return 0, fmt.Errorf("%w: worker expects size %d, hub has %d", ErrRejected, hello.size, size)
	case hello.rank <= 0 || hello.rank >= size:
		return 0, fmt.Errorf("%w: rank %d of %d", coord.ErrRankOutOfRange, hello.rank, size)
	case links[hello.rank] != nil:
		return 0, fmt.Errorf("%w: rank %d joined twice", ErrRejected, hello.rank)
	case hello.session != "" && hello.session != h.session:
		return 0, fmt.Errorf("%w: %q", ErrSessionMismatch, hello.session)
	}
	welcome := &frame{kind: kindWelcome, rank: hello.rank, size: size, session: h.session}
	if err := l.send(welcome); err != nil {
		return 0, err
	}
	return hello.rank, nil
}

// Join connects worker rank to the hub at addr, retrying until the hub
// answers or ctx is done.
func Join(ctx context.Context, addr string, rank, size int, opts Options) (*Group, error) {
	if rank <= 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d of %d joins a hub", coord.ErrRankOutOfRange, rank, size)
	}
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c, err := newCodec(opts.threshold())
	if err != nil {
		conn.Close()
		return nil, err
	}
	l := newLink(conn, c, opts.IOTimeout)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	fail := func(err error) (*Group, error) {
		conn.Close()
		c.Close()
		return nil, err
	}
	if err := l.send(&frame{kind: kindHello, rank: rank, size: size, session: opts.Session}); err != nil {
		return fail(fmt.Errorf("hello: %w", err))
	}
	welcome, err := l.expect(kindWelcome, 0)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrRejected, err))
	}
	if opts.Session != "" && welcome.session != opts.Session {
		return fail(fmt.Errorf("%w: hub runs %q", ErrSessionMismatch, welcome.session))
	}
	conn.SetDeadline(time.Time{})

	return &Group{
		rank:    rank,
		size:    size,
		session: welcome.session,
		codec:   c,
		links:   []*link{l},
	}, nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("join %s: %w", addr, errors.Join(ctx.Err(), err))
		case <-time.After(dialRetryInterval):
		}
	}
}

// Group is one worker's view of a TCP group. It implements
// coord.Communicator and must be used from a single goroutine; only Close
// may be called concurrently.
type Group struct {
	rank    int
	size    int
	session string
	codec   *codec

	// links holds the connection to every worker on the hub, indexed by
	// rank, and the single connection to the hub elsewhere.
	links []*link
	seq   uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ coord.Communicator = (*Group)(nil)

func (g *Group) Rank() int { return g.rank }
func (g *Group) Size() int { return g.size }

// Session returns the identifier of the run this group belongs to.
func (g *Group) Session() string { return g.session }

func (g *Group) Close() error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.closeLinks()
		g.codec.Close()
	})
	return nil
}

func (g *Group) closeLinks() {
	for _, l := range g.links {
		if l != nil {
			l.conn.Close()
		}
	}
}

func (g *Group) hub() bool { return g.rank == 0 }

func (g *Group) next() (uint64, error) {
	if g.closed.Load() {
		return 0, ErrClosed
	}
	g.seq++
	return g.seq, nil
}

func (g *Group) checkRank(rank int) error {
	if rank < 0 || rank >= g.size {
		return fmt.Errorf("%w: %d of %d", coord.ErrRankOutOfRange, rank, g.size)
	}
	return nil
}

// reduce runs one hub-combined collective. Workers send payload and
// receive the combined payload; the hub folds every worker's frame into
// its own state through combine, in ascending rank order, then sends the
// result produced by result.
func (g *Group) reduce(kind frameKind, payload []byte, rank int, combine func(f *frame) error, result func() *frame) (*frame, error) {
	seq, err := g.next()
	if err != nil {
		return nil, err
	}
	if !g.hub() {
		if err := g.links[0].send(&frame{kind: kind, seq: seq, rank: rank, payload: payload}); err != nil {
			return nil, err
		}
		return g.links[0].expect(kind, seq)
	}
	for r := 1; r < g.size; r++ {
		f, err := g.links[r].expect(kind, seq)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", r, err)
		}
		if err := combine(f); err != nil {
			return nil, err
		}
	}
	out := result()
	out.kind, out.seq = kind, seq
	for r := 1; r < g.size; r++ {
		if err := g.links[r].send(out); err != nil {
			return nil, fmt.Errorf("rank %d: %w", r, err)
		}
	}
	return out, nil
}

func (g *Group) Barrier() error {
	_, err := g.reduce(kindBarrier, nil, g.rank,
		func(*frame) error { return nil },
		func() *frame { return &frame{} })
	return err
}

func (g *Group) SumFloat64s(buf []float64) error {
	acc := make([]float64, len(buf))
	part := make([]float64, len(buf))
	if g.hub() {
		copy(acc, buf)
	}
	f, err := g.reduce(kindSumFloat64s, appendFloat64s(nil, buf), g.rank,
		func(f *frame) error {
			if err := decodeFloat64s(f.payload, part); err != nil {
				return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
			}
			for i, v := range part {
				acc[i] += v
			}
			return nil
		},
		func() *frame { return &frame{payload: appendFloat64s(nil, acc)} })
	if err != nil {
		return err
	}
	return decodeFloat64s(f.payload, buf)
}

func (g *Group) SumUint32s(buf []uint32) error {
	acc := make([]uint32, len(buf))
	part := make([]uint32, len(buf))
	if g.hub() {
		copy(acc, buf)
	}
	f, err := g.reduce(kindSumUint32s, appendUint32s(nil, buf), g.rank,
		func(f *frame) error {
			if err := decodeUint32s(f.payload, part); err != nil {
				return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
			}
			for i, v := range part {
				acc[i] += v
			}
			return nil
		},
		func() *frame { return &frame{payload: appendUint32s(nil, acc)} })
	if err != nil {
		return err
	}
	return decodeUint32s(f.payload, buf)
}

func (g *Group) All(v bool) (bool, error) {
	all := v
	f, err := g.reduce(kindAll, []byte{boolByte(v)}, g.rank,
		func(f *frame) error {
			if len(f.payload) != 1 {
				return fmt.Errorf("%w: all with %d bytes", ErrProtocol, len(f.payload))
			}
			all = all && f.payload[0] == 1
			return nil
		},
		func() *frame { return &frame{payload: []byte{boolByte(all)}} })
	if err != nil {
		return false, err
	}
	if len(f.payload) != 1 {
		return false, fmt.Errorf("%w: all with %d bytes", ErrProtocol, len(f.payload))
	}
	return f.payload[0] == 1, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func (g *Group) MinLoc(v float64) (coord.MinLoc, error) {
	best := coord.MinLoc{Value: v, Rank: g.rank}
	value := make([]float64, 1)
	f, err := g.reduce(kindMinLoc, appendFloat64s(nil, []float64{v}), g.rank,
		func(f *frame) error {
			if err := decodeFloat64s(f.payload, value); err != nil {
				return err
			}
			best = coord.CombineMinLoc(best, coord.MinLoc{Value: value[0], Rank: f.rank})
			return nil
		},
		func() *frame { return &frame{rank: best.Rank, payload: appendFloat64s(nil, []float64{best.Value})} })
	if err != nil {
		return coord.MinLoc{}, err
	}
	if err := decodeFloat64s(f.payload, value); err != nil {
		return coord.MinLoc{}, err
	}
	return coord.MinLoc{Value: value[0], Rank: f.rank}, nil
}

// broadcast moves payload from root to every worker. A non-zero root
// sends it to the hub, which forwards it to everyone else.
func (g *Group) broadcast(kind frameKind, root int, payload []byte) ([]byte, error) {
	if err := g.checkRank(root); err != nil {
		return nil, err
	}
	seq, err := g.next()
	if err != nil {
		return nil, err
	}
	if !g.hub() {
		if g.rank == root {
			return payload, g.links[0].send(&frame{kind: kind, seq: seq, rank: root, payload: payload})
		}
		f, err := g.links[0].expect(kind, seq)
		if err != nil {
			return nil, err
		}
		return f.payload, nil
	}

	if root != 0 {
		f, err := g.links[root].expect(kind, seq)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", root, err)
		}
		payload = f.payload
	}
	out := &frame{kind: kind, seq: seq, rank: root, payload: payload}
	for r := 1; r < g.size; r++ {
		if r == root {
			continue
		}
		if err := g.links[r].send(out); err != nil {
			return nil, fmt.Errorf("rank %d: %w", r, err)
		}
	}
	return payload, nil
}

func (g *Group) BroadcastFloat64s(root int, buf []float64) error {
	payload, err := g.broadcast(kindBroadcastFloat64s, root, appendFloat64s(nil, buf))
	if err != nil {
		return err
	}
	if g.rank == root {
		return nil
	}
	if err := decodeFloat64s(payload, buf); err != nil {
		return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
	}
	return nil
}

func (g *Group) BroadcastUint32s(root int, buf []uint32) error {
	payload, err := g.broadcast(kindBroadcastUint32s, root, appendUint32s(nil, buf))
	if err != nil {
		return err
	}
	if g.rank == root {
		return nil
	}
	if err := decodeUint32s(payload, buf); err != nil {
		return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
	}
	return nil
}

func (g *Group) ScatterFloat64s(root int, send []float64, counts []int, recv []float64) error {
	if err := g.checkRank(root); err != nil {
		return err
	}
	if root != 0 {
		return fmt.Errorf("%w: scatter from rank %d", ErrUnroutable, root)
	}
	seq, err := g.next()
	if err != nil {
		return err
	}
	if !g.hub() {
		f, err := g.links[0].expect(kindScatter, seq)
		if err != nil {
			return err
		}
		if err := decodeFloat64s(f.payload, recv); err != nil {
			return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
		}
		return nil
	}

	if len(counts) != g.size || counts[0] != len(recv) {
		return fmt.Errorf("%w: scatter counts %v for %d values", coord.ErrLengthMismatch, counts, len(recv))
	}
	displs := coord.Displacements(counts)
	if displs[g.size-1]+counts[g.size-1] > len(send) {
		return fmt.Errorf("%w: scatter counts %v over %d values", coord.ErrLengthMismatch, counts, len(send))
	}
	for r := 1; r < g.size; r++ {
		part := send[displs[r] : displs[r]+counts[r]]
		if err := g.links[r].send(&frame{kind: kindScatter, seq: seq, payload: appendFloat64s(nil, part)}); err != nil {
			return fmt.Errorf("rank %d: %w", r, err)
		}
	}
	copy(recv, send[:counts[0]])
	return nil
}

func (g *Group) GatherUint16s(root int, send []uint16, counts []int, recv []uint16) error {
	if err := g.checkRank(root); err != nil {
		return err
	}
	if root != 0 {
		return fmt.Errorf("%w: gather to rank %d", ErrUnroutable, root)
	}
	seq, err := g.next()
	if err != nil {
		return err
	}
	if !g.hub() {
		return g.links[0].send(&frame{kind: kindGather, seq: seq, rank: g.rank, payload: appendUint16s(nil, send)})
	}

	if len(counts) != g.size || counts[0] != len(send) {
		return fmt.Errorf("%w: gather counts %v for %d values", coord.ErrLengthMismatch, counts, len(send))
	}
	displs := coord.Displacements(counts)
	if displs[g.size-1]+counts[g.size-1] > len(recv) {
		return fmt.Errorf("%w: gather counts %v into %d values", coord.ErrLengthMismatch, counts, len(recv))
	}
	copy(recv, send)
	for r := 1; r < g.size; r++ {
		f, err := g.links[r].expect(kindGather, seq)
		if err != nil {
			return fmt.Errorf("rank %d: %w", r, err)
		}
		if err := decodeUint16s(f.payload, recv[displs[r]:displs[r]+counts[r]]); err != nil {
			return fmt.Errorf("rank %d: %w: %v", r, coord.ErrLengthMismatch, err)
		}
	}
	return nil
}

// peerLink returns the connection carrying transfers with rank.
func (g *Group) peerLink(rank int) (*link, error) {
	if err := g.checkRank(rank); err != nil {
		return nil, err
	}
	if g.closed.Load() {
		return nil, ErrClosed
	}
	switch {
	case rank == g.rank:
		return nil, fmt.Errorf("%w: transfer from rank %d to itself", ErrUnroutable, rank)
	case g.hub():
		return g.links[rank], nil
	case rank == 0:
		return g.links[0], nil
	default:
		return nil, fmt.Errorf("%w: transfer between ranks %d and %d", ErrUnroutable, g.rank, rank)
	}
}

func (g *Group) SendUint16s(to int, buf []uint16) error {
	l, err := g.peerLink(to)
	if err != nil {
		return err
	}
	l.sent++
	return l.send(&frame{kind: kindTransfer, seq: l.sent, rank: g.rank, payload: appendUint16s(nil, buf)})
}

func (g *Group) RecvUint16s(from int, buf []uint16) error {
	l, err := g.peerLink(from)
	if err != nil {
		return err
	}
	l.received++
	f, err := l.expect(kindTransfer, l.received)
	if err != nil {
		return err
	}
	if err := decodeUint16s(f.payload, buf); err != nil {
		return fmt.Errorf("%w: %v", coord.ErrLengthMismatch, err)
	}
	return nil
}

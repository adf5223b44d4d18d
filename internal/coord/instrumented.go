package coord

import (
	"time"

	"github.com/vexsearch/kmeans/internal/metrics"
)

// Instrumented wraps a Communicator with Prometheus metrics.
type Instrumented struct {
	inner     Communicator
	substrate string
}

// NewInstrumented labels every collective of inner with substrate.
func NewInstrumented(inner Communicator, substrate string) *Instrumented {
	return &Instrumented{inner: inner, substrate: substrate}
}

func (c *Instrumented) observe(op string, start time.Time, err error) {
	metrics.ObserveCollective(c.substrate, op, time.Since(start).Seconds(), err)
}

func (c *Instrumented) Rank() int { return c.inner.Rank() }
func (c *Instrumented) Size() int { return c.inner.Size() }

func (c *Instrumented) Barrier() error {
	start := time.Now()
	err := c.inner.Barrier()
	c.observe("barrier", start, err)
	return err
}

func (c *Instrumented) SumFloat64s(buf []float64) error {
	start := time.Now()
	err := c.inner.SumFloat64s(buf)
	c.observe("sum", start, err)
	return err
}

func (c *Instrumented) SumUint32s(buf []uint32) error {
	start := time.Now()
	err := c.inner.SumUint32s(buf)
	c.observe("sum", start, err)
	return err
}

func (c *Instrumented) All(v bool) (bool, error) {
	start := time.Now()
	all, err := c.inner.All(v)
	c.observe("all", start, err)
	return all, err
}

func (c *Instrumented) MinLoc(v float64) (MinLoc, error) {
	start := time.Now()
	loc, err := c.inner.MinLoc(v)
	c.observe("minloc", start, err)
	return loc, err
}

func (c *Instrumented) BroadcastFloat64s(root int, buf []float64) error {
	start := time.Now()
	err := c.inner.BroadcastFloat64s(root, buf)
	c.observe("broadcast", start, err)
	return err
}

func (c *Instrumented) BroadcastUint32s(root int, buf []uint32) error {
	start := time.Now()
	err := c.inner.BroadcastUint32s(root, buf)
	c.observe("broadcast", start, err)
	return err
}

func (c *Instrumented) ScatterFloat64s(root int, send []float64, counts []int, recv []float64) error {
	start := time.Now()
	err := c.inner.ScatterFloat64s(root, send, counts, recv)
	c.observe("scatter", start, err)
	return err
}

func (c *Instrumented) GatherUint16s(root int, send []uint16, counts []int, recv []uint16) error {
	start := time.Now()
	err := c.inner.GatherUint16s(root, send, counts, recv)
	c.observe("gather", start, err)
	return err
}

func (c *Instrumented) SendUint16s(to int, buf []uint16) error {
	start := time.Now()
	err := c.inner.SendUint16s(to, buf)
	c.observe("send", start, err)
	return err
}

func (c *Instrumented) RecvUint16s(from int, buf []uint16) error {
	start := time.Now()
	err := c.inner.RecvUint16s(from, buf)
	c.observe("recv", start, err)
	return err
}

func (c *Instrumented) Close() error {
	return c.inner.Close()
}

// Package membership places a process in the worker group of a distributed
// run: its rank, the group size and the address of rank 0.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/vexsearch/kmeans/internal/config"
)

var (
	// ErrNotSelected is returned to a gossip member that is not among the
	// first Size members of the pool.
	ErrNotSelected = errors.New("membership: process not selected for the group")

	// ErrNoCoordinator is returned when rank 0 advertises no group address.
	ErrNoCoordinator = errors.New("membership: coordinator advertises no address")
)

// Topology is a process's place in its group.
type Topology struct {
	Rank int
	Size int
	// Coordinator is the address rank 0 accepts workers on. Rank 0 itself
	// listens on its configured address instead.
	Coordinator string
}

// Resolver discovers the topology of a run.
type Resolver interface {
	// Resolve blocks until the topology is known or ctx is done.
	Resolve(ctx context.Context) (Topology, error)
	// Stop releases the resolver's resources.
	Stop()
}

// StaticResolver returns the topology fixed in configuration.
type StaticResolver struct {
	topology Topology
}

// NewStaticResolver creates a StaticResolver from a NetConfig.
func NewStaticResolver(cfg config.NetConfig) *StaticResolver {
	return &StaticResolver{topology: Topology{
		Rank:        cfg.Rank,
		Size:        cfg.Size,
		Coordinator: cfg.Coordinator,
	}}
}

func (r *StaticResolver) Resolve(ctx context.Context) (Topology, error) {
	t := r.topology
	if t.Size < 1 || t.Rank < 0 || t.Rank >= t.Size {
		return Topology{}, fmt.Errorf("%w: rank %d of %d", config.ErrInvalidTopology, t.Rank, t.Size)
	}
	if t.Rank > 0 && t.Coordinator == "" {
		return Topology{}, ErrNoCoordinator
	}
	return t, nil
}

// Stop is a no-op for static resolvers.
func (r *StaticResolver) Stop() {}

// NewFromConfig creates the Resolver selected by the membership type.
func NewFromConfig(cfg *config.Config) Resolver {
	switch cfg.Membership.Type {
	case config.MembershipGossip:
		return NewGossipResolver(cfg.Membership, cfg.Net)
	default:
		return NewStaticResolver(cfg.Net)
	}
}

package membership

import (
	"context"
	"fmt"
	"log"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/vexsearch/kmeans/internal/config"
)

// Member is a process seen through gossip.
type Member struct {
	Name string
	// GroupAddr is the address the process would accept workers on as rank 0.
	GroupAddr string
}

// GossipResolver forms a group from a HashiCorp memberlist pool. Once Size
// members are visible, ranks follow the sorted member names and rank 0's
// advertised group address becomes the coordinator.
type GossipResolver struct {
	mu       sync.RWMutex
	list     *memberlist.Memberlist
	members  []Member
	cfg      config.MembershipConfig
	size     int
	listen   string
	self     Member
	stopCh   chan struct{}
	updateCh chan struct{}
	changed  chan struct{}
	started  bool
	stopped  bool
}

// gossipDelegate advertises the process's group address as node metadata.
type gossipDelegate struct {
	meta []byte
}

func (d *gossipDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return d.meta[:limit]
	}
	return d.meta
}

func (d *gossipDelegate) NotifyMsg([]byte)                           {}
func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *gossipDelegate) LocalState(join bool) []byte                { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool)     {}

// gossipEvents handles membership change events.
type gossipEvents struct {
	resolver *GossipResolver
}

func (d *gossipEvents) NotifyJoin(node *memberlist.Node)   { d.resolver.scheduleUpdate() }
func (d *gossipEvents) NotifyLeave(node *memberlist.Node)  { d.resolver.scheduleUpdate() }
func (d *gossipEvents) NotifyUpdate(node *memberlist.Node) { d.resolver.scheduleUpdate() }

// NewGossipResolver creates a GossipResolver for a group of net.Size
// processes, each accepting workers on net's listen address.
func NewGossipResolver(cfg config.MembershipConfig, netCfg config.NetConfig) *GossipResolver {
	return &GossipResolver{
		cfg:      cfg,
		size:     netCfg.Size,
		listen:   netCfg.GetListenAddr(),
		stopCh:   make(chan struct{}),
		updateCh: make(chan struct{}, 1),
		changed:  make(chan struct{}, 1),
	}
}

// Start joins the gossip pool.
func (r *GossipResolver) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.BindAddr = r.cfg.Gossip.BindAddr
	if mlCfg.BindAddr == "" {
		mlCfg.BindAddr = "0.0.0.0"
	}
	mlCfg.BindPort = r.cfg.Gossip.BindPort
	if mlCfg.BindPort <= 0 {
		mlCfg.BindPort = 7946
	}
	if r.cfg.Gossip.AdvertiseAddr != "" {
		mlCfg.AdvertiseAddr = r.cfg.Gossip.AdvertiseAddr
	}
	if r.cfg.Gossip.AdvertisePort > 0 {
		mlCfg.AdvertisePort = r.cfg.Gossip.AdvertisePort
	}

	groupAddr, err := resolveGroupAddr(r.cfg, mlCfg, r.listen)
	if err != nil {
		return err
	}
	mlCfg.Name = r.cfg.Gossip.NodeName
	if mlCfg.Name == "" {
		host, _ := getLocalIP()
		if host == "" {
			host = mlCfg.BindAddr
		}
		mlCfg.Name = fmt.Sprintf("%s:%d", host, mlCfg.BindPort)
	}
	r.self = Member{Name: mlCfg.Name, GroupAddr: groupAddr}

	mlCfg.Delegate = &gossipDelegate{meta: []byte(groupAddr)}
	mlCfg.Events = &gossipEvents{resolver: r}
	mlCfg.Logger = log.New(&discardWriter{}, "", 0)

	list, err := memberlist.Create(mlCfg)
	if err != nil {
		return fmt.Errorf("failed to create memberlist: %w", err)
	}
	r.mu.Lock()
	r.list = list
	r.mu.Unlock()

	go r.updateLoop()

	// Joining no seed is fine: the first process of a pool starts alone.
	if seeds := r.cfg.Gossip.SeedNodes; len(seeds) > 0 {
		if _, err := list.Join(seeds); err != nil {
			list.Shutdown()
			return fmt.Errorf("failed to join gossip pool: %w", err)
		}
	}

	r.scheduleUpdate()
	return nil
}

// Resolve starts the resolver if needed and waits until the pool holds
// Size members.
func (r *GossipResolver) Resolve(ctx context.Context) (Topology, error) {
	if r.size < 1 {
		return Topology{}, fmt.Errorf("%w: size %d", config.ErrInvalidTopology, r.size)
	}
	if err := r.Start(); err != nil {
		return Topology{}, err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if members := r.Members(); len(members) >= r.size {
			return r.place(members)
		}
		select {
		case <-ctx.Done():
			return Topology{}, fmt.Errorf("waiting for %d gossip members: %w", r.size, ctx.Err())
		case <-r.changed:
		case <-ticker.C:
		}
	}
}

// place ranks the first size members by name.
func (r *GossipResolver) place(members []Member) (Topology, error) {
	slices.SortFunc(members, func(a, b Member) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	group := members[:r.size]
	rank := slices.IndexFunc(group, func(m Member) bool { return m.Name == r.self.Name })
	if rank < 0 {
		return Topology{}, fmt.Errorf("%w: %s", ErrNotSelected, r.self.Name)
	}
	if group[0].GroupAddr == "" {
		return Topology{}, fmt.Errorf("%w: %s", ErrNoCoordinator, group[0].Name)
	}
	return Topology{Rank: rank, Size: r.size, Coordinator: group[0].GroupAddr}, nil
}

// Stop leaves the gossip pool.
func (r *GossipResolver) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	list := r.list
	r.mu.Unlock()

	close(r.stopCh)
	if list != nil {
		list.Leave(time.Second)
		list.Shutdown()
	}
}

// Members returns the members currently visible.
func (r *GossipResolver) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.members)
}

// Self returns this process as advertised to the pool.
func (r *GossipResolver) Self() Member {
	return r.self
}

// scheduleUpdate signals the update loop. Safe to call from memberlist callbacks.
func (r *GossipResolver) scheduleUpdate() {
	select {
	case r.updateCh <- struct{}{}:
	default:
	}
}

func (r *GossipResolver) updateLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.updateCh:
			r.updateMembers()
		}
	}
}

func (r *GossipResolver) updateMembers() {
	r.mu.RLock()
	if r.list == nil || r.stopped {
		r.mu.RUnlock()
		return
	}
	list := r.list
	r.mu.RUnlock()

	nodes := list.Members()
	members := make([]Member, 0, len(nodes))
	for _, node := range nodes {
		members = append(members, Member{Name: node.Name, GroupAddr: string(node.Meta)})
	}

	r.mu.Lock()
	r.members = members
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// resolveGroupAddr pairs the advertised host with the port of listen.
func resolveGroupAddr(cfg config.MembershipConfig, mlCfg *memberlist.Config, listen string) (string, error) {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid listen port %q", port)
	}

	host := cfg.Gossip.AdvertiseAddr
	if host == "" {
		host = mlCfg.AdvertiseAddr
	}
	if host == "" {
		host = cfg.Gossip.BindAddr
	}
	if host == "" || host == "0.0.0.0" {
		if ip, err := getLocalIP(); err == nil && ip != "" {
			host = ip
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// discardWriter discards all writes (for silencing memberlist logs).
type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// getLocalIP returns the first non-loopback IPv4 address.
func getLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", nil
}

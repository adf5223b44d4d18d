package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	StrategySequential = "seq"
	StrategyGrouped    = "group"
	StrategyReplicated = "rep"
)

const (
	// SubstrateTeam runs workers as goroutines of one process.
	SubstrateTeam = "team"
	// SubstrateNet runs one worker per process, connected over TCP.
	SubstrateNet = "net"
)

const (
	MembershipStatic = "static"
	MembershipGossip = "gossip"
)

var (
	ErrInvalidStrategy    = errors.New("invalid strategy")
	ErrInvalidSubstrate   = errors.New("invalid substrate")
	ErrInvalidClusters    = errors.New("clusters must be between 1 and 65535")
	ErrInvalidRepetitions = errors.New("repetitions must be positive")
	ErrInvalidTopology    = errors.New("invalid worker topology")
	ErrInvalidMembership  = errors.New("invalid membership type")
	ErrMissingPath        = errors.New("missing input or output location")
)

type Config struct {
	Strategy    string `json:"strategy"`
	Substrate   string `json:"substrate"`
	Workers     int    `json:"workers"`
	Clusters    int    `json:"clusters"`
	Repetitions int    `json:"repetitions"`
	Seed        uint64 `json:"seed"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	// EmptyClusters is keep or fail.
	EmptyClusters string            `json:"empty_clusters"`
	LogLevel      string            `json:"log_level"`
	MetricsAddr   string            `json:"metrics_addr"`
	Net           NetConfig         `json:"net"`
	Membership    MembershipConfig  `json:"membership"`
	ObjectStore   ObjectStoreConfig `json:"object_store"`
}

// GetWorkers returns the team size, one worker per CPU by default.
func (c *Config) GetWorkers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// NetConfig holds the process-group settings of the net substrate.
type NetConfig struct {
	// Rank and Size place this process in the group when membership is static.
	Rank int `json:"rank"`
	Size int `json:"size"`
	// Coordinator is the address workers dial to reach rank 0.
	Coordinator string `json:"coordinator"`
	// ListenAddr is the address rank 0 accepts workers on.
	ListenAddr string `json:"listen_addr"`
	// Session optionally pins the run identifier every worker must agree on.
	Session string `json:"session"`
	// JoinTimeoutMs bounds group formation. Default: 60000.
	JoinTimeoutMs int `json:"join_timeout_ms"`
	// IOTimeoutMs bounds each frame read and write. 0 waits forever.
	IOTimeoutMs int `json:"io_timeout_ms"`
	// CompressThreshold is the payload size in bytes from which frames are
	// zstd-compressed. 0 uses the default, negative disables compression.
	CompressThreshold int `json:"compress_threshold"`
}

// GetListenAddr returns ListenAddr with default fallback.
func (c NetConfig) GetListenAddr() string {
	if c.ListenAddr == "" {
		return ":7070"
	}
	return c.ListenAddr
}

// GetJoinTimeout returns the group formation timeout with default fallback.
func (c NetConfig) GetJoinTimeout() time.Duration {
	if c.JoinTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

// GetIOTimeout returns the per-frame timeout, zero for none.
func (c NetConfig) GetIOTimeout() time.Duration {
	if c.IOTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.IOTimeoutMs) * time.Millisecond
}

type MembershipConfig struct {
	Type string `json:"type"`
	// Gossip-specific configuration
	Gossip GossipConfig `json:"gossip"`
}

type GossipConfig struct {
	// NodeName identifies this process in the gossip pool (default: hostname)
	NodeName string `json:"node_name"`
	// BindAddr is the address to bind gossip listener to (default: "0.0.0.0")
	BindAddr string `json:"bind_addr"`
	// BindPort is the port to bind gossip listener to (default: 7946)
	BindPort int `json:"bind_port"`
	// AdvertiseAddr is the address advertised to other cluster members (optional)
	AdvertiseAddr string `json:"advertise_addr"`
	// AdvertisePort is the port advertised to other cluster members (optional)
	AdvertisePort int `json:"advertise_port"`
	// SeedNodes is a list of seed nodes to bootstrap gossip membership
	SeedNodes []string `json:"seed_nodes"`
}

// ObjectStoreConfig holds the S3 connection used for s3:// locations.
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

func Default() *Config {
	return &Config{
		Strategy:      StrategySequential,
		Substrate:     SubstrateTeam,
		Repetitions:   1,
		EmptyClusters: "keep",
		LogLevel:      "info",
		Net: NetConfig{
			ListenAddr: ":7070",
			Size:       1,
		},
		Membership: MembershipConfig{
			Type: MembershipStatic,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  "http://localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Region:    "us-east-1",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("KMEANS_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if env := os.Getenv("KMEANS_STRATEGY"); env != "" {
		cfg.Strategy = env
	}
	if env := os.Getenv("KMEANS_SUBSTRATE"); env != "" {
		cfg.Substrate = env
	}
	if env := os.Getenv("KMEANS_WORKERS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Workers = n
		}
	}
	if env := os.Getenv("KMEANS_CLUSTERS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Clusters = n
		}
	}
	if env := os.Getenv("KMEANS_REPETITIONS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Repetitions = n
		}
	}
	if env := os.Getenv("KMEANS_SEED"); env != "" {
		if n, err := strconv.ParseUint(env, 10, 64); err == nil {
			cfg.Seed = n
		}
	}
	if env := os.Getenv("KMEANS_INPUT"); env != "" {
		cfg.Input = env
	}
	if env := os.Getenv("KMEANS_OUTPUT"); env != "" {
		cfg.Output = env
	}
	if env := os.Getenv("KMEANS_EMPTY_CLUSTERS"); env != "" {
		cfg.EmptyClusters = env
	}
	if env := os.Getenv("KMEANS_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}
	if env := os.Getenv("KMEANS_METRICS_ADDR"); env != "" {
		cfg.MetricsAddr = env
	}

	if env := os.Getenv("KMEANS_NET_RANK"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Net.Rank = n
		}
	}
	if env := os.Getenv("KMEANS_NET_SIZE"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Net.Size = n
		}
	}
	if env := os.Getenv("KMEANS_NET_COORDINATOR"); env != "" {
		cfg.Net.Coordinator = env
	}
	if env := os.Getenv("KMEANS_NET_LISTEN_ADDR"); env != "" {
		cfg.Net.ListenAddr = env
	}
	if env := os.Getenv("KMEANS_NET_SESSION"); env != "" {
		cfg.Net.Session = env
	}
	if env := os.Getenv("KMEANS_NET_JOIN_TIMEOUT_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Net.JoinTimeoutMs = n
		}
	}
	if env := os.Getenv("KMEANS_NET_IO_TIMEOUT_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Net.IOTimeoutMs = n
		}
	}
	if env := os.Getenv("KMEANS_NET_COMPRESS_THRESHOLD"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Net.CompressThreshold = n
		}
	}

	if env := os.Getenv("KMEANS_MEMBERSHIP_TYPE"); env != "" {
		cfg.Membership.Type = env
	}
	if env := os.Getenv("KMEANS_GOSSIP_NODE_NAME"); env != "" {
		cfg.Membership.Gossip.NodeName = env
	}
	if env := os.Getenv("KMEANS_GOSSIP_BIND_ADDR"); env != "" {
		cfg.Membership.Gossip.BindAddr = env
	}
	if env := os.Getenv("KMEANS_GOSSIP_BIND_PORT"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Membership.Gossip.BindPort = n
		}
	}
	if env := os.Getenv("KMEANS_GOSSIP_ADVERTISE_ADDR"); env != "" {
		cfg.Membership.Gossip.AdvertiseAddr = env
	}
	if env := os.Getenv("KMEANS_GOSSIP_ADVERTISE_PORT"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Membership.Gossip.AdvertisePort = n
		}
	}
	if env := os.Getenv("KMEANS_GOSSIP_SEED_NODES"); env != "" {
		cfg.Membership.Gossip.SeedNodes = parseNodeList(env)
	}

	if env := os.Getenv("KMEANS_OBJECT_STORE_ENDPOINT"); env != "" {
		cfg.ObjectStore.Endpoint = env
	}
	if env := os.Getenv("KMEANS_OBJECT_STORE_ACCESS_KEY"); env != "" {
		cfg.ObjectStore.AccessKey = env
	}
	if env := os.Getenv("KMEANS_OBJECT_STORE_SECRET_KEY"); env != "" {
		cfg.ObjectStore.SecretKey = env
	}
	if env := os.Getenv("KMEANS_OBJECT_STORE_REGION"); env != "" {
		cfg.ObjectStore.Region = env
	}
	if env := os.Getenv("KMEANS_OBJECT_STORE_USE_SSL"); env != "" {
		cfg.ObjectStore.UseSSL = env == "true" || env == "1"
	}

	return cfg, nil
}

// Validate checks the settings a run needs. Input and output are only
// required on rank 0 of the net substrate, the process that does the I/O.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategySequential, StrategyGrouped, StrategyReplicated:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, c.Strategy)
	}
	switch c.Substrate {
	case SubstrateTeam:
	case SubstrateNet:
		if c.Strategy == StrategySequential {
			return fmt.Errorf("%w: %s runs on a single process", ErrInvalidSubstrate, c.Strategy)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSubstrate, c.Substrate)
	}
	if c.Clusters < 1 || c.Clusters > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidClusters, c.Clusters)
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidRepetitions, c.Repetitions)
	}
	switch c.EmptyClusters {
	case "", "keep", "fail":
	default:
		return fmt.Errorf("invalid empty cluster policy %q", c.EmptyClusters)
	}

	coordinator := true
	if c.Substrate == SubstrateNet {
		switch c.Membership.Type {
		case MembershipStatic:
			if c.Net.Size < 1 || c.Net.Rank < 0 || c.Net.Rank >= c.Net.Size {
				return fmt.Errorf("%w: rank %d of %d", ErrInvalidTopology, c.Net.Rank, c.Net.Size)
			}
			if c.Net.Rank > 0 && c.Net.Coordinator == "" {
				return fmt.Errorf("%w: rank %d needs a coordinator address", ErrInvalidTopology, c.Net.Rank)
			}
			coordinator = c.Net.Rank == 0
		case MembershipGossip:
			if c.Net.Size < 1 {
				return fmt.Errorf("%w: size %d", ErrInvalidTopology, c.Net.Size)
			}
			// Rank is only known once the pool has formed.
			coordinator = false
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMembership, c.Membership.Type)
		}
	}
	if coordinator && (c.Input == "" || c.Output == "") {
		return ErrMissingPath
	}
	return nil
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseNodeList(s string) []string {
	var nodes []string
	for _, node := range strings.Split(s, ",") {
		node = strings.TrimSpace(node)
		if node != "" {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Package config loads statestore configuration. Values are layered: built-in
// defaults, then an optional YAML file, then STATESTORE_* environment
// variables, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "STATESTORE"

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendBoltDB    = "boltdb"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendEtcd      = "etcd"
	BackendConsul    = "consul"
	BackendZookeeper = "zookeeper"
	BackendRemote    = "remote"
	BackendSharded   = "sharded"
)

// Backends lists every supported backend.
var Backends = []string{
	BackendMemory, BackendBoltDB, BackendSQLite, BackendPostgres, BackendRedis,
	BackendEtcd, BackendConsul, BackendZookeeper, BackendRemote, BackendSharded,
}

// ErrUnknownBackend is returned for a backend name not in Backends.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Shard is one member of a sharded remote backend.
type Shard struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`

	// Path is the database file of boltdb and sqlite.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	// Addrs are the redis, etcd, consul, zookeeper or remote endpoints.
	Addrs    []string `yaml:"addrs"`
	Prefix   string   `yaml:"prefix"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`

	Shards string `yaml:"shards"` // id=addr,...
	VNodes int    `yaml:"vnodes"`

	TTL         time.Duration `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout" split_words:"true"`

	Journal      bool `yaml:"journal"`
	JournalDepth int  `yaml:"journal_depth" split_words:"true"`
}

// Config holds the node and client configuration.
type Config struct {
	NodeID      string        `yaml:"node_id" split_words:"true"`
	ListenAddr  string        `yaml:"listen_addr" split_words:"true"`
	MetricsAddr string        `yaml:"metrics_addr" split_words:"true"`
	LogLevel    string        `yaml:"log_level" split_words:"true"`
	LogJSON     bool          `yaml:"log_json" split_words:"true"`
	MaxInFlight int64         `yaml:"max_in_flight" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout"`

	Storage StorageConfig `yaml:"storage"`
}

// Default returns the built-in defaults: an in-memory node on :50051.
func Default() Config {
	return Config{
		NodeID:     "node1",
		ListenAddr: "127.0.0.1:50051",
		LogLevel:   "info",
		Timeout:    10 * time.Second,
		Storage: StorageConfig{
			Backend:      BackendMemory,
			VNodes:       128,
			DialTimeout:  5 * time.Second,
			JournalDepth: 16,
		},
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays STATESTORE_* environment variables onto c. Storage
// settings live under STATESTORE_STORAGE_*, e.g. STATESTORE_STORAGE_BACKEND.
func (c *Config) LoadEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// BindFlags registers flags for every setting on fs, defaulting to the
// current values of c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.NodeID, "node-id", c.NodeID, "Node identifier")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "gRPC listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-listen", c.MetricsAddr, "Prometheus /metrics listen address (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "Log in JSON")
	fs.Int64Var(&c.MaxInFlight, "max-in-flight", c.MaxInFlight, "Maximum concurrent storage operations (0 is unlimited)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Time to wait for an operation")

	s := &c.Storage
	fs.StringVar(&s.Backend, "backend", s.Backend, "Storage backend ("+strings.Join(Backends, ", ")+")")
	fs.StringVar(&s.Path, "path", s.Path, "Database file for boltdb and sqlite")
	fs.StringVar(&s.DSN, "dsn", s.DSN, "PostgreSQL connection string")
	fs.StringVar(&s.Table, "table", s.Table, "Table for sqlite and postgres")
	fs.StringSliceVar(&s.Addrs, "addrs", s.Addrs, "Backend endpoints")
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "Key prefix or root path")
	fs.StringVar(&s.Username, "username", s.Username, "Backend username")
	fs.StringVar(&s.Password, "password", s.Password, "Backend password or token")
	fs.IntVar(&s.DB, "db", s.DB, "Redis database number")
	fs.StringVar(&s.Shards, "shards", s.Shards, "Sharded backend members as id=addr,...")
	fs.IntVar(&s.VNodes, "vnodes", s.VNodes, "Virtual nodes per shard")
	fs.DurationVar(&s.TTL, "ttl", s.TTL, "Entry lifetime for the memory backend (0 keeps entries)")
	fs.DurationVar(&s.DialTimeout, "dial-timeout", s.DialTimeout, "Backend connection timeout")
	fs.BoolVar(&s.Journal, "journal", s.Journal, "Keep a value history in memory")
	fs.IntVar(&s.JournalDepth, "journal-depth", s.JournalDepth, "Revisions kept per name")
}

// Load builds a Config for a command from defaults, the file named by
// --config or STATESTORE_CONFIG, the environment and args. extra registers
// command-specific flags. It returns the remaining positional arguments.
func Load(name string, args []string, extra ...func(*pflag.FlagSet)) (Config, []string, error) {
	cfg := Default()

	path := os.Getenv(EnvPrefix + "_CONFIG")
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVar(&path, "config", path, "")
	pre.BoolP("help", "h", false, "")
	_ = pre.Parse(args)

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, nil, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, nil, err
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", path, "YAML configuration file")
	cfg.BindFlags(fs)
	for _, bind := range extra {
		bind(fs)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.NodeID == "" {
		add("node id cannot be empty")
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		add("invalid log level %q", c.LogLevel)
	}
	if c.MaxInFlight < 0 {
		add("max in flight cannot be negative")
	}
	if c.Timeout <= 0 {
		add("timeout must be positive")
	}

	s := c.Storage
	switch s.Backend {
	case BackendMemory:
	case BackendBoltDB, BackendSQLite:
		if s.Path == "" {
			add("%s backend requires a path", s.Backend)
		}
	case BackendPostgres:
		if s.DSN == "" {
			add("postgres backend requires a dsn")
		}
	case BackendRedis, BackendEtcd, BackendZookeeper, BackendRemote:
		if len(s.Addrs) == 0 {
			add("%s backend requires at least one address", s.Backend)
		}
	case BackendConsul:
		// The consul client falls back to CONSUL_HTTP_ADDR or localhost.
	case BackendSharded:
		shards, err := ParseShards(s.Shards)
		if err != nil {
			result = multierror.Append(result, err)
		} else if len(shards) == 0 {
			add("sharded backend requires at least one shard")
		}
	default:
		result = multierror.Append(result, fmt.Errorf("%w: %q", ErrUnknownBackend, s.Backend))
	}
	if s.DialTimeout <= 0 {
		add("dial timeout must be positive")
	}
	if s.Journal && s.JournalDepth <= 0 {
		add("journal depth must be positive")
	}

	return result.ErrorOrNil()
}

// Logger builds the root logger described by c.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "statestore",
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
	})
}

// ParseShards parses a comma-separated list of shards in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParseShards(shardsStr string) ([]Shard, error) {
	if shardsStr == "" {
		return []Shard{}, nil
	}

	parts := strings.Split(shardsStr, ",")
	shards := make([]Shard, 0, len(parts))
	var seen []string

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("shard ID and address cannot be empty: %s", part)
		}
		if slices.Contains(seen, id) {
			return nil, fmt.Errorf("duplicate shard ID: %s", id)
		}
		seen = append(seen, id)

		shards = append(shards, Shard{
			ID:   id,
			Addr: addr,
		})
	}

	return shards, nil
}

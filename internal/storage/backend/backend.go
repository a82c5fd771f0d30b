// Package backend opens the storage.Storage described by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"statestore/internal/config"
	"statestore/internal/storage"
	"statestore/internal/storage/boltdb"
	"statestore/internal/storage/consul"
	"statestore/internal/storage/etcd"
	"statestore/internal/storage/journal"
	"statestore/internal/storage/postgres"
	"statestore/internal/storage/redis"
	"statestore/internal/storage/remote"
	"statestore/internal/storage/sharded"
	"statestore/internal/storage/sqlite"
	"statestore/internal/storage/zookeeper"
)

// Open connects to the configured backend, wrapping it in a journal when
// enabled.
func Open(ctx context.Context, cfg config.StorageConfig, logger hclog.Logger) (storage.Storage, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	st, err := open(ctx, cfg, logger.Named("storage."+cfg.Backend))
	if err != nil {
		return nil, err
	}
	if !cfg.Journal {
		return st, nil
	}

	j, err := journal.New(st,
		journal.WithDepth(cfg.JournalDepth),
		journal.WithLogger(logger.Named("journal")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return j, nil
}

func open(ctx context.Context, cfg config.StorageConfig, logger hclog.Logger) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		var opts []storage.InMemoryOption
		if cfg.TTL > 0 {
			opts = append(opts, storage.WithTTL(cfg.TTL))
		}
		return storage.NewInMemoryStore(opts...), nil

	case config.BackendBoltDB:
		return boltdb.Open(boltdb.Config{
			Path:    cfg.Path,
			Bucket:  cfg.Table,
			Timeout: cfg.DialTimeout,
		}, logger)

	case config.BackendSQLite:
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, Table: cfg.Table}, logger)

	case config.BackendPostgres:
		return postgres.Open(ctx, postgres.Config{ConnString: cfg.DSN, Table: cfg.Table}, logger)

	case config.BackendRedis:
		return redis.Open(ctx, redis.Config{
			Addr:     first(cfg.Addrs),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
		}, logger)

	case config.BackendEtcd:
		return etcd.Open(etcd.Config{
			Endpoints:   cfg.Addrs,
			DialTimeout: cfg.DialTimeout,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Prefix:      cfg.Prefix,
		}, logger)

	case config.BackendConsul:
		return consul.Open(consul.Config{
			Address: first(cfg.Addrs),
			Token:   cfg.Password,
			Prefix:  cfg.Prefix,
		}, logger)

	case config.BackendZookeeper:
		return zookeeper.Open(zookeeper.Config{
			Servers:        cfg.Addrs,
			SessionTimeout: cfg.DialTimeout,
			Root:           cfg.Prefix,
		}, logger)

	case config.BackendRemote:
		return remote.Dial(first(cfg.Addrs), logger)

	case config.BackendSharded:
		return openSharded(cfg, logger)

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

// openSharded connects to every shard over gRPC through one ClientManager.
func openSharded(cfg config.StorageConfig, logger hclog.Logger) (storage.Storage, error) {
	members, err := config.ParseShards(cfg.Shards)
	if err != nil {
		return nil, err
	}

	cm := remote.NewClientManager(logger)
	shards := make([]sharded.Shard, 0, len(members))
	for _, m := range members {
		c, err := cm.Client(m.Addr)
		if err != nil {
			return nil, multierror.Append(err, cm.Close())
		}
		shards = append(shards, sharded.Shard{ID: m.ID, Addr: m.Addr, Storage: c})
	}

	st, err := sharded.New(shards, cfg.VNodes, logger)
	if err != nil {
		return nil, multierror.Append(err, cm.Close())
	}
	return &closeAlso{Storage: st, also: cm.Close}, nil
}

// closeAlso closes an extra resource after the wrapped Storage.
type closeAlso struct {
	storage.Storage
	also func() error
}

func (c *closeAlso) Close() error {
	var result *multierror.Error
	if err := c.Storage.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.also(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func first(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

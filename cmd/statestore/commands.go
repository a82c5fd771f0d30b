package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spf13/pflag"

	"statestore/internal/server"
	"statestore/internal/state"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

const globalOptions = `
Global options:

  --config=path          YAML configuration file (or STATESTORE_CONFIG)
  --backend=name         Storage backend: memory, boltdb, sqlite, postgres,
                         redis, etcd, consul, zookeeper, remote, sharded
  --addrs=a,b            Backend endpoints
  --path=file            Database file for boltdb and sqlite
  --timeout=10s          Time to wait for the operation

Every option can also be set as STATESTORE_<OPTION>; storage options use
STATESTORE_STORAGE_<OPTION>.
`

func help(usage string) string {
	return strings.TrimSpace(usage) + "\n" + globalOptions
}

// ServeCommand runs a node.
type ServeCommand struct {
	Meta
	ShutdownCh <-chan struct{}
}

func (c *ServeCommand) Help() string {
	return help(`
Usage: statestore serve [options]

  Serves the configured storage over gRPC.

Options:

  --node-id=id           Node identifier
  --listen=addr          gRPC listen address
  --metrics-listen=addr  Prometheus /metrics address
  --journal              Keep value history for the history command
`)
}

func (c *ServeCommand) Synopsis() string {
	return "Serve storage over gRPC"
}

func (c *ServeCommand) Run(args []string) int {
	s := c.open("serve", args, 0)
	if s == nil {
		return exitError
	}
	defer s.Close()

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to listen on %s: %s", s.cfg.ListenAddr, err))
		return exitError
	}

	node := server.NewNode(server.NodeConfig{
		ID:          s.cfg.NodeID,
		ListenAddr:  s.cfg.ListenAddr,
		MetricsAddr: s.cfg.MetricsAddr,
	}, s.storage, s.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- node.Serve(lis) }()
	c.Ui.Info(fmt.Sprintf("Serving %s storage on %s", s.cfg.Storage.Backend, lis.Addr()))

	select {
	case err := <-errCh:
		if err != nil {
			c.Ui.Error(err.Error())
			return exitError
		}
	case <-c.ShutdownCh:
		node.Stop()
		<-errCh
	}
	return exitOK
}

// FetchCommand prints the current value of a name.
type FetchCommand struct {
	Meta
}

func (c *FetchCommand) Help() string {
	return help(`
Usage: statestore fetch [options] NAME

  Prints the version and value of NAME. Names without a value print an
  empty value and exit successfully.
`)
}

func (c *FetchCommand) Synopsis() string {
	return "Print the value of a name"
}

func (c *FetchCommand) Run(args []string) int {
	s := c.open("fetch", args, 1)
	if s == nil {
		return exitError
	}
	defer s.Close()

	v, ok := wait(&c.Meta, s, s.state().Fetch(context.Background(), s.args[0]))
	if !ok {
		return exitError
	}
	if v.IsAbsent() {
		c.Ui.Warn(fmt.Sprintf("%s holds no value", v.Name()))
		return exitOK
	}
	c.Ui.Info(fmt.Sprintf("version %s", v.Version()))
	c.Ui.Output(string(v.Value()))
	return exitOK
}

// StoreCommand writes a value.
type StoreCommand struct {
	Meta
}

func (c *StoreCommand) Help() string {
	return help(`
Usage: statestore store [options] NAME VALUE

  Writes VALUE to NAME and prints the new version. A VALUE of "-" is read
  from standard input.

  With --expect the write only happens if NAME is still at that version, and
  the command exits with status 2 otherwise. Without it, the current version
  is fetched and the write retried until it wins.

Options:

  --expect=version       Version the write is conditional on
`)
}

func (c *StoreCommand) Synopsis() string {
	return "Write the value of a name"
}

func (c *StoreCommand) Run(args []string) int {
	var expect string
	s := c.open("store", args, 2, func(fs *pflag.FlagSet) {
		fs.StringVar(&expect, "expect", "", "Version the write is conditional on")
	})
	if s == nil {
		return exitError
	}
	defer s.Close()

	name := s.args[0]
	value := []byte(s.args[1])
	if s.args[1] == "-" {
		var err error
		if value, err = io.ReadAll(c.Stdin); err != nil {
			c.Ui.Error(fmt.Sprintf("Failed to read value: %s", err))
			return exitError
		}
	}

	st := s.state()
	if expect == "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		v, err := state.Update(ctx, st, name, func(state.Variable) ([]byte, error) {
			return value, nil
		})
		if err != nil {
			c.Ui.Error(err.Error())
			return exitError
		}
		c.Ui.Output(v.Version().String())
		return exitOK
	}

	ver, err := version.Parse(expect)
	if err != nil {
		c.Ui.Error(err.Error())
		return exitError
	}
	stored, ok := wait(&c.Meta, s, st.Store(context.Background(), state.NewVariable(name, value, ver)))
	if !ok {
		return exitError
	}
	if stored == nil {
		c.Ui.Error(fmt.Sprintf("%s is no longer at version %s", name, ver))
		return exitConflict
	}
	c.Ui.Output(stored.Version().String())
	return exitOK
}

// ExpungeCommand deletes a name.
type ExpungeCommand struct {
	Meta
}

func (c *ExpungeCommand) Help() string {
	return help(`
Usage: statestore expunge [options] NAME

  Deletes NAME. With --expect the deletion only happens at that version.
  Without it, whatever value NAME currently holds is deleted. Exits with
  status 2 if nothing was deleted.

Options:

  --expect=version       Version the deletion is conditional on
`)
}

func (c *ExpungeCommand) Synopsis() string {
	return "Delete a name"
}

func (c *ExpungeCommand) Run(args []string) int {
	var expect string
	s := c.open("expunge", args, 1, func(fs *pflag.FlagSet) {
		fs.StringVar(&expect, "expect", "", "Version the deletion is conditional on")
	})
	if s == nil {
		return exitError
	}
	defer s.Close()

	st := s.state()
	name := s.args[0]

	var v state.Variable
	if expect != "" {
		ver, err := version.Parse(expect)
		if err != nil {
			c.Ui.Error(err.Error())
			return exitError
		}
		v = state.NewVariable(name, nil, ver)
	} else {
		current, ok := wait(&c.Meta, s, st.Fetch(context.Background(), name))
		if !ok {
			return exitError
		}
		v = current
	}

	deleted, ok := wait(&c.Meta, s, st.Expunge(context.Background(), v))
	if !ok {
		return exitError
	}
	if !deleted {
		c.Ui.Error(fmt.Sprintf("%s was not deleted", name))
		return exitConflict
	}
	return exitOK
}

// NamesCommand lists names.
type NamesCommand struct {
	Meta
}

func (c *NamesCommand) Help() string {
	return help(`
Usage: statestore names [options]

  Lists every name holding a value, one per line.
`)
}

func (c *NamesCommand) Synopsis() string {
	return "List names"
}

func (c *NamesCommand) Run(args []string) int {
	s := c.open("names", args, 0)
	if s == nil {
		return exitError
	}
	defer s.Close()

	names, ok := wait(&c.Meta, s, s.state().Names(context.Background()))
	if !ok {
		return exitError
	}
	for _, name := range names.Sorted() {
		c.Ui.Output(name)
	}
	return exitOK
}

// remoteHistorian is implemented by the remote client.
type remoteHistorian interface {
	History(ctx context.Context, name string) ([]journal.Revision, error)
}

// HistoryCommand prints previous values.
type HistoryCommand struct {
	Meta
}

func (c *HistoryCommand) Help() string {
	return help(`
Usage: statestore history [options] NAME

  Prints the values NAME held before its current one, newest first, as
  "version<TAB>value". Removed values are marked "(deleted)". History is
  kept in memory by a node started with --journal; query it with
  --backend=remote.
`)
}

func (c *HistoryCommand) Synopsis() string {
	return "Print previous values of a name"
}

func (c *HistoryCommand) Run(args []string) int {
	s := c.open("history", args, 1)
	if s == nil {
		return exitError
	}
	defer s.Close()

	name := s.args[0]
	var revs []journal.Revision
	var err error
	switch h := s.storage.(type) {
	case remoteHistorian:
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		revs, err = h.History(ctx, name)
	case server.Historian:
		revs, err = h.History(name)
	default:
		c.Ui.Error(fmt.Sprintf("The %s backend keeps no history; use --backend=remote against a node started with --journal", s.cfg.Storage.Backend))
		return exitError
	}
	if err != nil {
		c.Ui.Error(err.Error())
		return exitError
	}

	for _, r := range revs {
		line := r.Version.String() + "\t" + string(r.Value)
		if r.Deleted {
			line += "\t(deleted)"
		}
		c.Ui.Output(line)
	}
	return exitOK
}

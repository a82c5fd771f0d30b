package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/pflag"

	"statestore/internal/config"
	"statestore/internal/future"
	"statestore/internal/state"
	"statestore/internal/storage"
	"statestore/internal/storage/backend"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitConflict = 2
)

// Meta holds what every command shares.
type Meta struct {
	Ui    cli.Ui
	Stdin io.Reader
}

// session is an opened configuration for one command run.
type session struct {
	cfg     config.Config
	args    []string
	logger  hclog.Logger
	storage storage.Storage
}

func (s *session) Close() error {
	return s.storage.Close()
}

func (s *session) state() *state.State {
	return state.New(s.storage,
		state.WithLogger(s.logger),
		state.WithMaxInFlight(s.cfg.MaxInFlight))
}

// open loads configuration and opens the storage. On failure it reports to
// the UI and returns nil.
func (m *Meta) open(name string, args []string, wantArgs int, extra ...func(*pflag.FlagSet)) *session {
	cfg, rest, err := config.Load(name, args, extra...)
	if err != nil {
		m.Ui.Error(err.Error())
		return nil
	}
	if wantArgs >= 0 && len(rest) != wantArgs {
		m.Ui.Error(fmt.Sprintf("%s expects %d argument(s), got %d", name, wantArgs, len(rest)))
		return nil
	}

	logger := cfg.Logger()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.DialTimeout)
	defer cancel()
	st, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		m.Ui.Error(fmt.Sprintf("Failed to open %s storage: %s", cfg.Storage.Backend, err))
		return nil
	}
	return &session{cfg: cfg, args: rest, logger: logger, storage: st}
}

// wait resolves f within the configured timeout. A timed out operation is
// asked to stop but may still complete in the background.
func wait[T any](m *Meta, s *session, f *future.Future[T]) (T, bool) {
	v, err := f.GetTimeout(s.cfg.Timeout)
	if err != nil {
		if errors.Is(err, future.ErrTimeout) {
			f.Discard()
		}
		m.Ui.Error(err.Error())
		return v, false
	}
	return v, true
}

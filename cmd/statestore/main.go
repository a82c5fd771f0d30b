// Command statestore serves and queries a versioned key/value state store.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/cli"
)

const binName = "statestore"

// Version is set at build time.
var Version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	meta := Meta{Ui: ui, Stdin: os.Stdin}

	shutdown := make(chan struct{})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		close(shutdown)
	}()

	cliRunner := &cli.CLI{
		Name:       binName,
		Version:    Version,
		Args:       args,
		Commands:   commands(meta, shutdown),
		HelpWriter: os.Stdout,
	}

	code, err := cliRunner.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return code
}

func commands(meta Meta, shutdown <-chan struct{}) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &ServeCommand{Meta: meta, ShutdownCh: shutdown}, nil
		},
		"fetch": func() (cli.Command, error) {
			return &FetchCommand{Meta: meta}, nil
		},
		"store": func() (cli.Command, error) {
			return &StoreCommand{Meta: meta}, nil
		},
		"expunge": func() (cli.Command, error) {
			return &ExpungeCommand{Meta: meta}, nil
		},
		"names": func() (cli.Command, error) {
			return &NamesCommand{Meta: meta}, nil
		},
		"history": func() (cli.Command, error) {
			return &HistoryCommand{Meta: meta}, nil
		},
	}
}

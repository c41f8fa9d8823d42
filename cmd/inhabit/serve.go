package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odvcencio/inhabit/pkg/api"
	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/store"
)

// apiServer is the slice of api.Server the command needs, kept narrow
// so tests can substitute a fake.
type apiServer interface {
	Start(ctx context.Context) error
}

var (
	serveLoadConfigFn = config.LoadFrom
	serveNewServerFn  = func(cfg api.Config) apiServer {
		return api.NewServer(cfg)
	}
)

// runServeCommand exposes an archive of finished runs over the status
// API, independent of any in-flight benchmark.
func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default inhabit.yaml)")
	envFile := fs.String("env-file", "", "env file path (default .env)")
	addr := fs.String("addr", "", "listen address (default "+api.DefaultAddress+")")
	dbPath := fs.String("db", "", "SQLite database of archived runs")
	noLog := fs.Bool("no-log", false, "disable the JSONL event log")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := serveLoadConfigFn(*configPath, *envFile)
	if err != nil {
		return withExitCode(err, 2)
	}

	address := cfg.API.Address
	if *addr != "" {
		address = *addr
	}
	if address == "" {
		address = api.DefaultAddress
	}
	database := cfg.Store.Path
	if *dbPath != "" {
		database = *dbPath
	}
	if database == "" {
		return withExitCode(errors.New(errors.ErrCodeInvalidInput, "no run database configured").
			WithRemediation("pass -db or set store.path in inhabit.yaml"), 2)
	}

	archive, err := store.New(database)
	if err != nil {
		return err
	}
	defer archive.Close()

	log, err := buildLogger(cfg, "serve", *noLog)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := serveNewServerFn(api.Config{
		Address: address,
		Archive: archive,
		Logger:  log,
	})
	fmt.Printf("serving run status on %s from %s\n", address, database)
	return srv.Start(ctx)
}

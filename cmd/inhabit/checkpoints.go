package main

import (
	"flag"
	"fmt"

	"github.com/odvcencio/inhabit/pkg/checkpoint"
	"github.com/odvcencio/inhabit/pkg/config"
)

var checkpointsLoadConfigFn = config.LoadFrom

func runCheckpointsCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		return runCheckpointsList(args[1:])
	case "prune":
		return runCheckpointsPrune(args[1:])
	default:
		return withExitCode(fmt.Errorf("usage: inhabit checkpoints <list|prune> [flags]"), 2)
	}
}

// checkpointStore resolves the checkpoint directory: an explicit -dir
// wins, otherwise the configured run.checkpoint_dir.
func checkpointStore(configPath, envFile, dir string) (*checkpoint.Store, error) {
	if dir != "" {
		return checkpoint.NewStore(dir), nil
	}
	cfg, err := checkpointsLoadConfigFn(configPath, envFile)
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	return checkpoint.NewStore(cfg.Run.CheckpointDir), nil
}

func runCheckpointsList(args []string) error {
	fs := flag.NewFlagSet("checkpoints list", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default inhabit.yaml)")
	envFile := fs.String("env-file", "", "env file path (default .env)")
	dir := fs.String("dir", "", "checkpoint directory (defaults to run.checkpoint_dir)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	cps, err := checkpointStore(*configPath, *envFile, *dir)
	if err != nil {
		return err
	}

	ids, err := cps.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no checkpoints")
		return nil
	}
	for _, id := range ids {
		rep, err := cps.Load(id)
		if err != nil {
			fmt.Printf("%s  (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("%s  packages %d  hits %d  errors %d\n",
			id, rep.Aggregate.Packages, rep.Aggregate.Hits, rep.Aggregate.Errors)
	}
	return nil
}

func runCheckpointsPrune(args []string) error {
	fs := flag.NewFlagSet("checkpoints prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default inhabit.yaml)")
	envFile := fs.String("env-file", "", "env file path (default .env)")
	dir := fs.String("dir", "", "checkpoint directory (defaults to run.checkpoint_dir)")
	keep := fs.Int("keep", 5, "how many newest checkpoints to keep")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	cps, err := checkpointStore(*configPath, *envFile, *dir)
	if err != nil {
		return err
	}

	removed, err := cps.Prune(*keep)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d checkpoints\n", removed)
	return nil
}

package main

import (
	"strings"

	"github.com/odvcencio/inhabit/pkg/config"
	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/logging"
	"github.com/odvcencio/inhabit/pkg/manifest"
)

// resolveRoster produces the ordered unit ids a command will process:
// the manifest file when configured, otherwise a corpus scan, then the
// deterministic sample.
func resolveRoster(cfg *config.Config) ([]string, error) {
	if strings.TrimSpace(cfg.Run.CorpusRoot) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no corpus root configured").
			WithRemediation("pass --corpus-root or set run.corpus_root in inhabit.yaml")
	}

	var ids []string
	var err error
	if cfg.Run.PackageIDsFile != "" {
		ids, err = manifest.Load(cfg.Run.PackageIDsFile)
	} else {
		ids, err = manifest.ScanDir(cfg.Run.CorpusRoot)
	}
	if err != nil {
		return nil, err
	}
	return manifest.Sample(ids, cfg.Run.Samples, cfg.Run.Seed), nil
}

// buildLogger opens the JSONL event log for one command invocation.
// The id names the log file under <dir>/runs/.
func buildLogger(cfg *config.Config, id string, disabled bool) (*logging.Logger, error) {
	if disabled || cfg.Logging.Disabled {
		return logging.NewNop(), nil
	}
	log, err := logging.NewLogger(cfg.Logging.Dir, id)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "" {
		log.SetMinLevel(logging.Level(cfg.Logging.Level))
	}
	return log, nil
}

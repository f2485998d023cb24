// Command pit shares git repositories between peers without a server.
//
// Usage:
//
//	pit [-C DIR] [-v] init [-name NAME] [-email EMAIL]
//	pit [-v] clone KEY PATH
//	pit [-C DIR] [-v] seed [-watch]
//	pit [-C DIR] [-v] info
//	pit [-C DIR] [-v] add KEY
//	pit [-C DIR] [-v] sync
//
// All commands but clone act on the repository in the current directory,
// or in the one named with -C.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit/config"
	"github.com/bobg/pit/repo"
)

type maincmd struct {
	dir    string
	pit    *repo.Pit
	stdout io.Writer
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dir     = fs.String("C", ".", "repository root")
		verbose = fs.Bool("v", false, "log at debug level")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	cfg, err := config.Load(*dir)
	if err != nil {
		return err
	}
	level := cfg.Level()
	if *verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	setupLogging(stderr, level)

	c := maincmd{
		dir:    *dir,
		pit:    repo.New(),
		stdout: stdout,
	}
	return subcmd.Run(ctx, c, fs.Args())
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"init":  c.initRepo,
		"clone": c.clone,
		"seed":  c.seed,
		"info":  c.info,
		"add":   c.add,
		"sync":  c.sync,
	}
}

func setupLogging(w io.Writer, level zerolog.Level) {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return "pit>"
			}
			return fmt.Sprintf("pit> %s", i)
		},
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(cw).With().Timestamp().Str("app", "pit").Logger()
}

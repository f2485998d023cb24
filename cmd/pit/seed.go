package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit/repo"
)

// Seeds until interrupted.
func (c maincmd) seed(ctx context.Context, fs *flag.FlagSet, args []string) error {
	watch := fs.Bool("watch", false, "republish when the repository changes")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	stop, err := c.pit.Seed(ctx, c.dir, repo.WithWatch(*watch))
	if err != nil {
		return err
	}
	log.Info().Str("dir", c.dir).Bool("watch", *watch).Msg("seeding")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.Info().Stringer("signal", sig).Msg("stopping")
	case <-ctx.Done():
	}
	return stop()
}

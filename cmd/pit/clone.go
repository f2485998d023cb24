package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bobg/pit"
)

func (c maincmd) clone(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() != 2 {
		return errors.New("usage: pit clone KEY PATH")
	}
	keystr, dst := fs.Arg(0), fs.Arg(1)

	key, err := pit.KeyFromHex(keystr)
	if err != nil {
		return errors.Wrapf(err, "parsing key %s", keystr)
	}
	res, err := c.pit.Clone(ctx, key, dst)
	if err != nil {
		return err
	}
	log.Info().Str("path", dst).Msg("cloned")
	fmt.Fprintf(c.stdout, "count %d (added %d, changed %d, removed %d)\n", res.Count, res.Added, res.Changed, res.Removed)
	return nil
}

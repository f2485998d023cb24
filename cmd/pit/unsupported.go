package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"

	"github.com/bobg/pit"
)

func (c maincmd) add(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pit add KEY")
	}
	key, err := pit.KeyFromHex(fs.Arg(0))
	if err != nil {
		return errors.Wrapf(err, "parsing key %s", fs.Arg(0))
	}
	return c.pit.Add(ctx, c.dir, key)
}

func (c maincmd) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	return c.pit.Sync(ctx, c.dir)
}

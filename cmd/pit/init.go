package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/pit/repo"
)

func (c maincmd) initRepo(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var opts repo.InitOptions
	fs.StringVar(&opts.Name, "name", "", "name to record in the profile (default from git config)")
	fs.StringVar(&opts.Email, "email", "", "email to record in the profile (default from git config)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() != 0 {
		return errors.New("usage: pit init [-name NAME] [-email EMAIL]")
	}

	key, err := c.pit.Init(ctx, c.dir, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, key)
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
)

func (c maincmd) info(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	info, err := c.pit.Info(ctx, c.dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "root:\t%s\n", info.Root)
	fmt.Fprintf(w, "role:\t%s\n", info.Role)
	if info.Profile != nil {
		fmt.Fprintf(w, "key:\t%s\n", info.Profile.Key)
		fmt.Fprintf(w, "name:\t%s <%s>\n", info.Profile.Name, info.Profile.Email)
	}
	for i, d := range info.Drives {
		label := "author"
		if i == 0 {
			label = "maintainer"
		}
		fmt.Fprintf(w, "%s:\t%s\tversion %d\t%d files\n", label, d.Key, d.Version, d.Files)
	}
	return w.Flush()
}

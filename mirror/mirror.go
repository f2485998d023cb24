// Package mirror makes one tree of files match another.
//
// Either side may be a directory on the local filesystem
// (see package local)
// or a drive
// (see package drive).
// Publishing a repository mirrors its .git directory into a drive;
// checking one out mirrors the drive into a directory.
package mirror

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/pit"
)

// Source is a tree that can be mirrored from.
type Source interface {
	// Entries lists the files in the tree, sorted by path.
	Entries(context.Context) ([]pit.Entry, error)

	// Open returns the content of the file at the given path.
	Open(context.Context, string) (io.ReadCloser, error)
}

// Target is a tree that can be mirrored to.
type Target interface {
	Source

	// Put creates or replaces the file at the given path.
	Put(ctx context.Context, path string, mode os.FileMode, r io.Reader) error

	// Del removes the file at the given path.
	Del(ctx context.Context, path string) error

	// Flush makes all prior writes durable and visible.
	Flush(context.Context) error
}

// Result describes the changes made to the target by one mirroring pass.
type Result struct {
	// Count is the total number of entries added, changed, or removed.
	Count int

	Added, Changed, Removed int
}

// Option configures a mirroring pass.
type Option func(*config)

type config struct {
	filter      func(string) bool
	concurrency int
	prune       bool
}

// Filter restricts mirroring to the paths for which keep returns true.
// Other paths are neither copied from the source nor removed from the target.
func Filter(keep func(path string) bool) Option {
	return func(c *config) {
		c.filter = keep
	}
}

// Concurrency sets the number of files copied at once.
func Concurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Prune controls whether entries present only in the target are removed.
// The default is true.
func Prune(prune bool) Option {
	return func(c *config) {
		c.prune = prune
	}
}

// Job is a mirroring pass running in the background.
type Job struct {
	done chan struct{}
	res  Result
	err  error
}

// Begin starts making dst match src.
// Call Finish on the result to wait for it.
func Begin(ctx context.Context, src Source, dst Target, opts ...Option) *Job {
	conf := config{concurrency: 8, prune: true}
	for _, opt := range opts {
		opt(&conf)
	}

	j := &Job{done: make(chan struct{})}
	go func() {
		defer close(j.done)
		j.res, j.err = run(ctx, src, dst, conf)
	}()
	return j
}

// Done is closed when the job is finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finish waits until every entry has been compared,
// every needed change applied,
// and the target flushed.
// It then reports the changes made.
// On error the Result reflects the changes made before the failure.
func (j *Job) Finish() (Result, error) {
	<-j.done
	return j.res, j.err
}

// Run is Begin followed by Finish.
func Run(ctx context.Context, src Source, dst Target, opts ...Option) (Result, error) {
	return Begin(ctx, src, dst, opts...).Finish()
}

type op struct {
	entry pit.Entry
	isNew bool
	check bool // contents must be compared before copying
}

func run(ctx context.Context, src Source, dst Target, conf config) (Result, error) {
	var (
		srcEntries, dstEntries []pit.Entry
		res                    Result
		mu                     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		srcEntries, err = src.Entries(gctx)
		return errors.Wrap(err, "listing source")
	})
	g.Go(func() error {
		var err error
		dstEntries, err = dst.Entries(gctx)
		return errors.Wrap(err, "listing target")
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	srcEntries = filter(srcEntries, conf.filter)
	dstEntries = filter(dstEntries, conf.filter)

	var (
		puts []op
		dels []string
	)
	i, j := 0, 0
	for i < len(srcEntries) || j < len(dstEntries) {
		if i == len(srcEntries) || (j < len(dstEntries) && srcEntries[i].Path > dstEntries[j].Path) {
			if conf.prune {
				dels = append(dels, dstEntries[j].Path)
			}
			j++
			continue
		}
		if j == len(dstEntries) || srcEntries[i].Path < dstEntries[j].Path {
			puts = append(puts, op{entry: srcEntries[i], isNew: true})
			i++
			continue
		}

		// Same path.
		s, d := srcEntries[i], dstEntries[j]
		i++
		j++
		switch {
		case s.Same(d):
		case s.Differs(d):
			puts = append(puts, op{entry: s})
		default:
			puts = append(puts, op{entry: s, check: true})
		}
	}

	// Removals go first,
	// so that a file can replace a directory of the same name
	// and vice versa.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(conf.concurrency)
	for _, p := range dels {
		p := p
		g.Go(func() error {
			if err := dst.Del(gctx, p); err != nil {
				return errors.Wrapf(err, "removing %s", p)
			}
			log.Trace().Str("path", p).Msg("mirror: removed")
			mu.Lock()
			res.Removed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total(res), err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(conf.concurrency)
	for _, o := range puts {
		o := o
		g.Go(func() error {
			if o.check {
				same, err := sameContent(gctx, src, dst, o.entry.Path)
				if err != nil {
					return errors.Wrapf(err, "comparing %s", o.entry.Path)
				}
				if same {
					return nil
				}
			}
			if err := copyEntry(gctx, src, dst, o.entry); err != nil {
				return errors.Wrapf(err, "copying %s", o.entry.Path)
			}
			log.Trace().Str("path", o.entry.Path).Bool("new", o.isNew).Msg("mirror: copied")
			mu.Lock()
			if o.isNew {
				res.Added++
			} else {
				res.Changed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total(res), err
	}

	if err := dst.Flush(ctx); err != nil {
		return total(res), errors.Wrap(err, "flushing target")
	}

	res = total(res)
	log.Debug().Int("added", res.Added).Int("changed", res.Changed).Int("removed", res.Removed).Msg("mirror finished")
	return res, nil
}

func total(res Result) Result {
	res.Count = res.Added + res.Changed + res.Removed
	return res
}

func filter(entries []pit.Entry, keep func(string) bool) []pit.Entry {
	if keep == nil {
		return entries
	}
	result := make([]pit.Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e.Path) {
			result = append(result, e)
		}
	}
	return result
}

func copyEntry(ctx context.Context, src Source, dst Target, e pit.Entry) error {
	rc, err := src.Open(ctx, e.Path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return dst.Put(ctx, e.Path, e.Mode, rc)
}

func sameContent(ctx context.Context, a, b Source, path string) (bool, error) {
	ra, err := a.Open(ctx, path)
	if err != nil {
		return false, err
	}
	defer ra.Close()

	rb, err := b.Open(ctx, path)
	if err != nil {
		return false, err
	}
	defer rb.Close()

	const bufsize = 32 * 1024

	var (
		br1  = bufio.NewReaderSize(ra, bufsize)
		br2  = bufio.NewReaderSize(rb, bufsize)
		buf1 = make([]byte, bufsize)
		buf2 = make([]byte, bufsize)
	)
	for {
		n1, err1 := io.ReadFull(br1, buf1)
		n2, err2 := io.ReadFull(br2, buf2)
		if !bytes.Equal(buf1[:n1], buf2[:n2]) {
			return false, nil
		}
		end1, end2 := isEOF(err1), isEOF(err2)
		if err1 != nil && !end1 {
			return false, err1
		}
		if err2 != nil && !end2 {
			return false, err2
		}
		if end1 || end2 {
			return end1 && end2, nil
		}
	}
}

func isEOF(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

package repo

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Cleanup steps run in reverse order of registration.
// Every step runs even if an earlier one fails.
type cleanups struct {
	steps []cleanupStep
}

type cleanupStep struct {
	what string
	f    func() error
}

func (c *cleanups) add(what string, f func() error) {
	c.steps = append(c.steps, cleanupStep{what: what, f: f})
}

// Runs all steps and combines their errors.
func (c *cleanups) run() error {
	var result error
	for i := len(c.steps) - 1; i >= 0; i-- {
		s := c.steps[i]
		if err := s.f(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, s.what))
		}
	}
	c.steps = nil
	return result
}

// Runs all steps.
// If *errp is already set,
// cleanup errors are logged and *errp is left alone;
// otherwise *errp gets the cleanup errors.
func (c *cleanups) runInto(errp *error) {
	err := c.run()
	if err == nil {
		return
	}
	if *errp != nil {
		log.Error().Err(err).Msg("cleaning up after failure")
		return
	}
	*errp = err
}

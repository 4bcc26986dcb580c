package actions

import (
	"context"
	"fmt"

	"github.com/mgentili/phat-bench/go/multierrgroup"
	"github.com/sirupsen/logrus"
)

// CheckSweep validates every run and rejects runs that would write the same
// artifact.
func CheckSweep(runs []Workload) error {
	seen := make(map[string]int)
	for i, w := range runs {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		if j, ok := seen[w.Output()]; ok {
			return fmt.Errorf("runs %d and %d both write %s", j, i, w.Output())
		}
		seen[w.Output()] = i
	}
	return nil
}

// RunSweep runs every workload as its own campaign, one after another. A
// failed run is logged and the sweep moves on; it stops early only if ctx is
// done.
func (s *Sequencer) RunSweep(ctx context.Context, runs []Workload, opts RunOptions) ([]string, error) {
	if err := CheckSweep(runs); err != nil {
		return nil, err
	}
	log := logrus.WithField("action", "run-sweep")
	var (
		artifacts []string
		errs      []error
	)
	for i, w := range runs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		log.Infof("run %d/%d: %s", i+1, len(runs), w.Output())
		runOpts := opts
		runOpts.Provision = opts.Provision && i == 0
		a, err := s.RunBenchmark(ctx, w, runOpts)
		if err != nil {
			log.Errorf("run %s failed: %v", w.Output(), err)
			errs = append(errs, fmt.Errorf("%s: %w", w.Output(), err))
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, multierrgroup.Join(errs...)
}

package actions

import (
	"context"
	"fmt"
	"net"

	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProbeCommand exits 0 if a TCP connection to addr succeeds within a second.
func ProbeCommand(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "0"
	}
	return "timeout 1 " + shellquote.Join("bash", "-c", fmt.Sprintf("</dev/tcp/%s/%s", host, port))
}

// probeReady polls every RPC endpoint from the client host until all of them
// accept connections or w.ProbeTimeout passes.
func (s *Sequencer) probeReady(ctx context.Context, w inventory.WarmupSpec) error {
	client, err := s.clientHost()
	if err != nil {
		return err
	}
	endpoints := s.c.Endpoints().RPC
	log := logrus.WithField("action", "warmup")
	log.Infof("probing %d endpoints from %s", len(endpoints), client.Name)

	pctx := ctx
	if w.ProbeTimeout.D > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, w.ProbeTimeout.D)
		defer cancel()
	}

	for round := 1; ; round++ {
		eg, rctx := errgroup.WithContext(pctx)
		for _, addr := range endpoints {
			addr := addr
			eg.Go(func() error {
				res := s.d.Execute(rctx, []inventory.Host{client}, ProbeCommand(addr), remote.Options{})[client.Name]
				if res.Err != nil {
					return fmt.Errorf("%s not ready: %w", addr, res.Err)
				}
				return nil
			})
		}
		lastErr := eg.Wait()
		if lastErr == nil {
			log.Infof("all endpoints ready after %d rounds", round)
			return nil
		}
		log.Debugf("round %d: %v", round, lastErr)
		if pctx.Err() == nil {
			s.sleep(pctx, w.ProbeInterval.D)
		}
		if pctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("endpoints not ready after %v: %w", w.ProbeTimeout.D, lastErr)
		}
	}
}

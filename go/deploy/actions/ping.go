package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ping/ping"
	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/multierrgroup"
)

// MeshPingCommand pings every address count times and fails if any of them
// did not answer. All addresses are tried even after a failure.
func MeshPingCommand(addrs []string, count int) string {
	var b strings.Builder
	b.WriteString("rc=0;")
	for _, a := range addrs {
		fmt.Fprintf(&b, " %s || rc=1;", shellquote.Join("ping", "-q", "-c", strconv.Itoa(count), "-W", "1", a))
	}
	b.WriteString(" exit $rc")
	return b.String()
}

// Ping checks that every server host reaches every server private address.
func (s *Sequencer) Ping(ctx context.Context, count int) (remote.Results, error) {
	servers, err := s.resolve(inventory.RoleServer)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	addrs := make([]string, len(servers))
	for i, h := range servers {
		addrs[i] = h.PrivateAddr
	}
	return s.d.Execute(ctx, servers, MeshPingCommand(addrs, count), remote.Options{Parallel: true}), nil
}

// PingLocal pings the external address of every host from this machine.
// privileged selects raw ICMP sockets over unprivileged UDP ones.
func PingLocal(ctx context.Context, hosts []inventory.Host, count int, timeout time.Duration, privileged bool) (map[string]*ping.Statistics, error) {
	var (
		mu    sync.Mutex
		stats = make(map[string]*ping.Statistics)
		eg    multierrgroup.Group
	)
	for _, h := range hosts {
		h := h
		eg.Go(func() error {
			p, err := ping.NewPinger(h.ExternalAddr)
			if err != nil {
				return fmt.Errorf("%s: %w", h.Name, err)
			}
			p.Count = count
			p.Timeout = timeout
			p.SetPrivileged(privileged)

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					p.Stop()
				case <-done:
				}
			}()

			if err := p.Run(); err != nil {
				return fmt.Errorf("%s: %w", h.Name, err)
			}
			st := p.Statistics()
			mu.Lock()
			stats[h.Name] = st
			mu.Unlock()
			if st.PacketsRecv == 0 {
				return fmt.Errorf("%s: no replies from %s", h.Name, h.ExternalAddr)
			}
			return nil
		})
	}
	err := eg.Wait()
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, err
}

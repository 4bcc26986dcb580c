package actions

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/detach"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/periodic"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/multierrgroup"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	Provisioning
	ServerStarting
	Warmup
	ClientRunning
	Collecting
	Stopping
)

var stateNames = [...]string{
	Idle:           "Idle",
	Provisioning:   "Provisioning",
	ServerStarting: "ServerStarting",
	Warmup:         "Warmup",
	ClientRunning:  "ClientRunning",
	Collecting:     "Collecting",
	Stopping:       "Stopping",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Sequencer drives one campaign at a time against the hosts of a config.
type Sequencer struct {
	c *inventory.CampaignConfig
	d *remote.Dispatcher
	l *detach.Launcher

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)

	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   State
	servers []*ServerProcess
}

func NewSequencer(c *inventory.CampaignConfig, d *remote.Dispatcher) *Sequencer {
	return &Sequencer{
		c:     c,
		d:     d,
		l:     detach.NewLauncher(d, c),
		sleep: remote.Sleep,
	}
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) enter(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	logrus.WithField("action", "campaign").Debugf("%v -> %v", from, to)
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}

func (s *Sequencer) resolve(r inventory.Role) ([]inventory.Host, error) {
	return s.c.Resolve(r)
}

func (s *Sequencer) clientHost() (inventory.Host, error) {
	clients, err := s.resolve(inventory.RoleClient)
	if err != nil {
		return inventory.Host{}, err
	}
	if len(clients) > 1 {
		logrus.WithField("action", "campaign").Warnf("%d client hosts configured, using %s", len(clients), clients[0].Name)
	}
	return clients[0], nil
}

// RemotePath is where name lives on the client host.
func (s *Sequencer) RemotePath(name string) string {
	if dir := s.c.RemoteDir(); dir != "" {
		return path.Join(dir, name)
	}
	return name
}

// Prepare kills processes left over from earlier runs and makes sure every
// server host can run detached sessions.
func (s *Sequencer) Prepare(ctx context.Context) error {
	servers, err := s.resolve(inventory.RoleServer)
	if err != nil {
		return err
	}
	client, err := s.clientHost()
	if err != nil {
		return err
	}
	srv, cli := s.c.Server(), s.c.Client()
	if err := s.l.TerminateAll(ctx, servers, srv.ProcessName, srv.Elevate).Err(); err != nil {
		return fmt.Errorf("failed to kill stale servers: %w", err)
	}
	if err := s.l.TerminateAll(ctx, []inventory.Host{client}, cli.ProcessName, cli.Elevate).Err(); err != nil {
		return fmt.Errorf("failed to kill stale client: %w", err)
	}

	var eg multierrgroup.Group
	for _, h := range servers {
		h := h
		eg.Go(func() error { return s.l.EnsureSessionTool(ctx, h) })
	}
	return eg.Wait()
}

// StartServerCluster launches one replica per server host, in parallel.
func (s *Sequencer) StartServerCluster(ctx context.Context, replicationMode bool) error {
	servers, err := s.resolve(inventory.RoleServer)
	if err != nil {
		return err
	}
	endpoints := s.c.Endpoints()
	procs := make([]*ServerProcess, len(servers))
	var eg multierrgroup.Group
	for i, h := range servers {
		p := NewServerProcess(s.l, h, s.c.Server(), endpoints, replicationMode)
		procs[i] = p
		eg.Go(func() error { return p.Start(ctx) })
	}
	err = eg.Wait()
	s.mu.Lock()
	s.servers = procs
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to start server cluster: %w", err)
	}
	logrus.WithField("action", "start-server").Infof("started %d replicas: %s", len(servers), endpoints.ReplicationArg())
	return nil
}

// Warmup waits for the cluster to settle, either for a fixed delay or until
// every RPC endpoint accepts connections.
func (s *Sequencer) Warmup(ctx context.Context) error {
	w := s.c.Warmup()
	if w.Mode == inventory.WarmupProbe {
		return s.probeReady(ctx, w)
	}
	logrus.WithField("action", "warmup").Infof("waiting %v", w.Duration.D)
	return s.sleep(ctx, w.Duration.D)
}

const clientProgressInterval = time.Minute

// StartClientWorkload deletes any stale artifact and runs the client to
// completion.
func (s *Sequencer) StartClientWorkload(ctx context.Context, w Workload) error {
	if err := w.Validate(); err != nil {
		return err
	}
	client, err := s.clientHost()
	if err != nil {
		return err
	}
	remoteFile := s.RemotePath(w.Output())
	rm := "rm -f " + shellquote.Join(remoteFile)
	if err := s.d.Execute(ctx, []inventory.Host{client}, rm, remote.Options{}).Err(); err != nil {
		return fmt.Errorf("failed to delete stale artifact: %w", err)
	}

	p := NewClientProcess(s.d, s.l, client, s.c.Client(), s.c.Endpoints(), w, remoteFile)
	log := remote.HostLog("start-client", client)
	log.Infof("running %d messages, window %d -> %s", w.NumMessages, w.WindowSize, remoteFile)
	progress := periodic.NewPrinter(log, "client running", clientProgressInterval)
	err = p.Start(ctx)
	progress.Stop()
	if err != nil {
		kctx, cancel := s.teardownContext(ctx)
		defer cancel()
		if killErr := p.Kill(kctx); killErr != nil {
			log.Warnf("failed to kill client after error: %v", killErr)
		}
		return fmt.Errorf("client workload failed: %w", err)
	}
	log.Debugf("client output:\n%s", p.Output())
	return nil
}

// StopServerCluster force-kills the server process on every server host,
// whether or not this sequencer started it.
func (s *Sequencer) StopServerCluster(ctx context.Context) error {
	servers, err := s.resolve(inventory.RoleServer)
	if err != nil {
		return err
	}
	srv := s.c.Server()
	res := s.l.TerminateAll(ctx, servers, srv.ProcessName, srv.Elevate)
	s.mu.Lock()
	s.servers = nil
	s.mu.Unlock()
	return res.Err()
}

// Servers returns the replicas started by the last StartServerCluster.
func (s *Sequencer) Servers() []*ServerProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ServerProcess(nil), s.servers...)
}

// teardownContext outlives cancellation of ctx so cleanup still runs after
// an operator abort.
func (s *Sequencer) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if t := s.c.TeardownTimeout(); t > 0 {
		return context.WithTimeout(base, t)
	}
	return context.WithCancel(base)
}

type RunOptions struct {
	// LocalDir receives the artifact.
	LocalDir string
	// Provision runs full host provisioning before the campaign.
	Provision bool
}

// RunBenchmark runs one full campaign and returns the local artifact path.
// Once server start has begun, the server cluster is always stopped, even
// if a later step fails or ctx is canceled.
func (s *Sequencer) RunBenchmark(ctx context.Context, w Workload, opts RunOptions) (artifact string, err error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	log := logrus.WithField("action", "run-benchmark")
	defer s.enter(Idle)

	s.enter(Provisioning)
	if opts.Provision {
		if err := s.Provision(ctx); err != nil {
			return "", err
		}
	}
	if err := s.Prepare(ctx); err != nil {
		return "", err
	}

	s.enter(ServerStarting)
	defer func() {
		s.enter(Stopping)
		tctx, cancel := s.teardownContext(ctx)
		defer cancel()
		if stopErr := s.StopServerCluster(tctx); stopErr != nil {
			log.Errorf("failed to stop server cluster: %v", stopErr)
			if err == nil {
				err = fmt.Errorf("failed to stop server cluster: %w", stopErr)
			}
		}
	}()
	if err := s.StartServerCluster(ctx, w.ReplicationMode); err != nil {
		return "", err
	}

	s.enter(Warmup)
	if err := s.Warmup(ctx); err != nil {
		return "", fmt.Errorf("warmup failed: %w", err)
	}

	s.enter(ClientRunning)
	if err := s.StartClientWorkload(ctx, w); err != nil {
		return "", err
	}

	s.enter(Collecting)
	artifact, err = s.Collect(ctx, w.Output(), opts.LocalDir)
	if err != nil {
		return "", err
	}
	log.Infof("artifact saved to %s", artifact)
	return artifact, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mgentili/phat-bench/go/cmd/flagtypes"
	"github.com/mgentili/phat-bench/go/deploy/actions"
	"github.com/mgentili/phat-bench/go/deploy/configgen"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/sirupsen/logrus"
)

var setupCmd = &cmd{
	name:     "setup",
	synopsis: "install packages and the session tool and run the setup script on every host",
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		return e.seq.Provision(ctx)
	},
}

var startServerVR bool

var startServerCmd = &cmd{
	name:     "start-server",
	synopsis: "kill stale replicas and start one on every server host",
	setFlags: func(fs *flag.FlagSet) {
		fs.BoolVar(&startServerVR, "vr", false, "run servers in replication mode")
	},
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		if err := e.seq.Prepare(ctx); err != nil {
			return err
		}
		if err := e.seq.StartServerCluster(ctx, startServerVR); err != nil {
			return err
		}
		for _, p := range e.seq.Servers() {
			running, err := p.IsRunning(ctx)
			if err != nil {
				return err
			}
			if !running {
				return errors.New("a replica exited right after start")
			}
		}
		return nil
	},
}

var shutdownCmd = &cmd{
	name:     "shutdown",
	synopsis: "kill the server process on every server host",
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		return e.seq.StopServerCluster(ctx)
	},
}

var pingFlags struct {
	count      int
	local      bool
	privileged bool
	timeout    flagtypes.Duration
}

var pingCmd = &cmd{
	name:     "ping",
	synopsis: "check that server hosts reach each other over their private addresses",
	usage: `ping [-count N] [-local [-privileged] [-timeout D]]

Without -local, every server host pings every server private address.
With -local, this machine pings the external address of every host.
`,
	setFlags: func(fs *flag.FlagSet) {
		pingFlags.timeout = flagtypes.Duration{D: 10 * time.Second}
		fs.IntVar(&pingFlags.count, "count", 3, "pings per address")
		fs.BoolVar(&pingFlags.local, "local", false, "ping from this machine")
		fs.BoolVar(&pingFlags.privileged, "privileged", false, "use raw ICMP sockets (needs root) with -local")
		fs.Var(&pingFlags.timeout, "timeout", "give up on a host after this long with -local")
	},
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		if pingFlags.local {
			stats, err := actions.PingLocal(ctx, e.c.AllHosts(), pingFlags.count, pingFlags.timeout.D, pingFlags.privileged)
			names := make([]string, 0, len(stats))
			for n := range stats {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				st := stats[n]
				fmt.Printf("%s\t%s\tsent=%d recv=%d loss=%.0f%% avg=%v\n",
					n, st.Addr, st.PacketsSent, st.PacketsRecv, st.PacketLoss, st.AvgRtt)
			}
			return err
		}

		res, err := e.seq.Ping(ctx, pingFlags.count)
		if err != nil {
			return err
		}
		servers, _ := e.c.Resolve(inventory.RoleServer)
		for _, h := range servers {
			status := "ok"
			if res[h.Name].Err != nil {
				status = "FAILED"
			}
			fmt.Printf("%s\t%s\n", h.Name, status)
		}
		return res.Err()
	},
}

var workloadFlags struct {
	actions.Workload
	localDir  string
	provision bool
}

func registerWorkloadFlags(fs *flag.FlagSet) {
	fs.IntVar(&workloadFlags.NumMessages, "n", 1000, "number of messages the client sends")
	fs.IntVar(&workloadFlags.WindowSize, "w", 1, "client window size")
	fs.BoolVar(&workloadFlags.ReplicationMode, "vr", false, "replication mode")
	fs.StringVar(&workloadFlags.OutputName, "out", "", "artifact name (default derived from -n, -w and -vr)")
	fs.StringVar(&workloadFlags.localDir, "dir", ".", "local directory for artifacts")
}

var startClientCmd = &cmd{
	name:     "start-client",
	synopsis: "run the client against running servers and fetch its artifact",
	setFlags: registerWorkloadFlags,
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		w := workloadFlags.Workload
		if err := e.seq.StartClientWorkload(ctx, w); err != nil {
			return err
		}
		artifact, err := e.seq.Collect(ctx, w.Output(), workloadFlags.localDir)
		if err != nil {
			return err
		}
		fmt.Println(artifact)
		return nil
	},
}

var runBenchmarkCmd = &cmd{
	name:     "run-benchmark",
	synopsis: "start servers, warm up, run the client, fetch the artifact and stop servers",
	setFlags: func(fs *flag.FlagSet) {
		registerWorkloadFlags(fs)
		fs.BoolVar(&workloadFlags.provision, "provision", false, "run setup before the campaign")
	},
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		artifact, err := e.seq.RunBenchmark(ctx, workloadFlags.Workload, actions.RunOptions{
			LocalDir:  workloadFlags.localDir,
			Provision: workloadFlags.provision,
		})
		if err != nil {
			return err
		}
		fmt.Println(artifact)
		return nil
	},
}

var runSweepCmd = &cmd{
	name:     "run-sweep",
	synopsis: "run a campaign for every workload in a starlark sweep file",
	usage: `run-sweep [-dir D] [-provision] sweep.star

sweep.star must set runs to a list of dicts with keys vr, num_messages,
window_size and optionally output. artifact_name(vr, num_messages,
window_size) returns the default artifact name.
`,
	setFlags: func(fs *flag.FlagSet) {
		fs.StringVar(&workloadFlags.localDir, "dir", ".", "local directory for artifacts")
		fs.BoolVar(&workloadFlags.provision, "provision", false, "run setup before the first campaign")
	},
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		if fs.NArg() != 1 {
			return errors.New("need exactly one sweep file")
		}
		runs, err := configgen.GenSweep(fs.Arg(0))
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			logrus.WithField("action", "run-sweep").Warnf("%s defines no runs", fs.Arg(0))
			return nil
		}
		if err := os.MkdirAll(workloadFlags.localDir, 0o755); err != nil {
			return err
		}
		artifacts, err := e.seq.RunSweep(ctx, runs, actions.RunOptions{
			LocalDir:  workloadFlags.localDir,
			Provision: workloadFlags.provision,
		})
		for _, a := range artifacts {
			fmt.Println(filepath.Clean(a))
		}
		return err
	},
}

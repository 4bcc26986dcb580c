package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/mgentili/phat-bench/go/deploy/actions"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/sshmux"
	"github.com/sirupsen/logrus"
)

var (
	configPath   = flag.String("config", "campaign.yaml", "path to campaign config")
	sshUser      = flag.String("user", "", "ssh user for every host, overrides the config")
	sshKey       = flag.String("key", "", "ssh key for every host, overrides the config")
	useSSHConfig = flag.Bool("ssh-config", false, "use ~/.ssh/config for every host, overrides the config")
	traceCmds    = flag.Bool("trace", false, "log every ssh invocation")
	verbose      = flag.Bool("v", false, "debug logging")
	muxDir       = flag.String("mux", "", "ssh mux dir made by mk-ssh-mux")
)

// env is what every campaign command works with.
type env struct {
	c   *inventory.CampaignConfig
	d   *remote.Dispatcher
	seq *actions.Sequencer
}

func loadEnv(ctx context.Context) (*env, error) {
	var opts []inventory.Option
	if *sshKey != "" || *useSSHConfig {
		opts = append(opts, inventory.WithProfileOverride(inventory.Profile{
			User:         *sshUser,
			KeyFile:      *sshKey,
			UseSSHConfig: *useSSHConfig,
		}))
	} else if *sshUser != "" {
		return nil, errors.New("-user needs -key or -ssh-config")
	}
	c, err := inventory.Load(*configPath, opts...)
	if err != nil {
		return nil, err
	}

	t := &remote.SSHTransport{Config: c, Trace: *traceCmds}
	if *muxDir != "" {
		if t.Mux, err = sshmux.Load(*muxDir); err != nil {
			return nil, err
		}
		for dst, err := range t.Mux.DropDead(ctx) {
			logrus.WithField("action", "ssh-mux").Warnf("not using master for %s: %v", dst, err)
		}
	}
	d := remote.NewDispatcher(t, c.Retry())
	seq := actions.NewSequencer(c, d)
	seq.OnTransition = func(from, to actions.State) {
		logrus.WithField("action", "campaign").Infof("state %v", to)
	}
	return &env{c: c, d: d, seq: seq}, nil
}

// cmd is a campaign command. exec gets the loaded config; its error is
// logged with any per-host output before exiting.
type cmd struct {
	name, synopsis, usage string

	setFlags func(fs *flag.FlagSet)
	exec     func(ctx context.Context, e *env, fs *flag.FlagSet) error
}

func (c *cmd) Name() string     { return c.name }
func (c *cmd) Synopsis() string { return c.synopsis }
func (c *cmd) Usage() string {
	if c.usage == "" {
		return c.synopsis + "\n"
	}
	return c.usage
}

func (c *cmd) SetFlags(fs *flag.FlagSet) {
	if c.setFlags != nil {
		c.setFlags(fs)
	}
}

func (c *cmd) Execute(ctx context.Context, fs *flag.FlagSet,
	args ...interface{}) subcommands.ExitStatus {

	e, err := loadEnv(ctx)
	if err != nil {
		logrus.Errorf("%s: %v", c.name, err)
		return subcommands.ExitUsageError
	}
	if err := c.exec(ctx, e, fs); err != nil {
		reportErr(c.name, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

var _ subcommands.Command = new(cmd)

// reportErr logs err, and for every failed remote command in it the host and
// captured output.
func reportErr(action string, err error) {
	log := logrus.WithField("action", action)
	log.Error(err)
	var walk func(error)
	walk = func(err error) {
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range multi.Unwrap() {
				walk(e)
			}
			return
		}
		var cmdErr *remote.RemoteCommandError
		if errors.As(err, &cmdErr) {
			log.WithField("host", cmdErr.Host).Errorf("exit status %d; output:\n%s", cmdErr.ExitStatus, cmdErr.Output)
		}
	}
	walk(err)
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(setupCmd, "campaign")
	subcommands.Register(startServerCmd, "campaign")
	subcommands.Register(shutdownCmd, "campaign")
	subcommands.Register(pingCmd, "campaign")
	subcommands.Register(startClientCmd, "campaign")
	subcommands.Register(runBenchmarkCmd, "campaign")
	subcommands.Register(runSweepCmd, "campaign")
	subcommands.Register(mkSSHMuxCmd, "ssh")
	subcommands.Register(new(delSSHMuxCmd), "ssh")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// Package detach runs long-lived commands on remote hosts inside tmux
// sessions so they outlive the ssh connection that started them.
package detach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
)

type Launcher struct {
	d         *remote.Dispatcher
	tool      inventory.SessionToolSpec
	provision inventory.ProvisionSpec
}

func NewLauncher(d *remote.Dispatcher, c *inventory.CampaignConfig) *Launcher {
	return &Launcher{d: d, tool: c.SessionTool(), provision: c.Provision()}
}

// Session identifies a detached command. Each session runs on its own tmux
// server socket, named like the session.
type Session struct {
	Host     inventory.Host
	Name     string
	Elevated bool
}

type LaunchOptions struct {
	// Precommand runs in the same shell before the command, e.g. exports.
	Precommand string
	// SessionName is the prefix of the generated session name.
	SessionName string
	Elevate     bool
}

func (l *Launcher) run(ctx context.Context, h inventory.Host, command string, elevate bool) remote.Result {
	return l.d.Execute(ctx, []inventory.Host{h}, command, remote.Options{Elevate: elevate})[h.Name]
}

func exitedNonZero(err error) bool {
	var cmdErr *remote.RemoteCommandError
	return errors.As(err, &cmdErr)
}

// EnsureSessionTool installs tmux on h unless it is already present.
func (l *Launcher) EnsureSessionTool(ctx context.Context, h inventory.Host) error {
	check := "test -x " + shellquote.Join(l.tool.Path)
	res := l.run(ctx, h, check, false)
	if res.Err == nil {
		return nil
	}
	if !exitedNonZero(res.Err) {
		return fmt.Errorf("failed to check for %s on %s: %w", l.tool.Path, h.Name, res.Err)
	}

	remote.HostLog("ensure-session-tool", h).Infof("%s missing, installing %s", l.tool.Path, l.tool.Package)
	res = l.run(ctx, h, l.provision.InstallCommand(l.tool.Package), true)
	if res.Err != nil {
		return fmt.Errorf("failed to install %s on %s: %w", l.tool.Package, h.Name, res.Err)
	}
	if res = l.run(ctx, h, check, false); res.Err != nil {
		return fmt.Errorf("%s still missing on %s after install: %w", l.tool.Path, h.Name, res.Err)
	}
	return nil
}

func (l *Launcher) tmux(s Session, args ...string) string {
	return shellquote.Join(append([]string{l.tool.Path, "-L", s.Name}, args...)...)
}

// LaunchDetached starts command on h and returns once it is running in the
// background. The session tool is checked first; if it is unavailable the
// launch fails rather than run the command in the foreground.
func (l *Launcher) LaunchDetached(ctx context.Context, h inventory.Host, command string, opts LaunchOptions) (Session, error) {
	if err := l.EnsureSessionTool(ctx, h); err != nil {
		return Session{}, err
	}
	prefix := opts.SessionName
	if prefix == "" {
		prefix = "phat"
	}
	s := Session{
		Host:     h,
		Name:     prefix + "-" + uuid.New().String(),
		Elevated: opts.Elevate,
	}
	full := command
	if opts.Precommand != "" {
		full = opts.Precommand + "; " + command
	}
	remote.HostLog("launch-detached", h).Infof("session %s: %s", s.Name, full)
	res := l.run(ctx, h, l.tmux(s, "new-session", "-d", "-s", s.Name, full), s.Elevated)
	if res.Err != nil {
		return Session{}, fmt.Errorf("failed to launch %s on %s: %w", s.Name, h.Name, res.Err)
	}
	return s, nil
}

// IsRunning reports whether the session still exists.
func (l *Launcher) IsRunning(ctx context.Context, s Session) (bool, error) {
	res := l.run(ctx, s.Host, l.tmux(s, "has-session", "-t", s.Name), s.Elevated)
	switch {
	case res.Err == nil:
		return true, nil
	case exitedNonZero(res.Err):
		return false, nil
	}
	return false, fmt.Errorf("failed to query session %s on %s: %w", s.Name, s.Host.Name, res.Err)
}

// KillCommand force-kills every process named processName. It succeeds when
// nothing matches (pkill exits 1 in that case).
func KillCommand(processName string) string {
	return fmt.Sprintf("pkill -9 -x %s; test $? -le 1", shellquote.Join(processName))
}

// TerminateAll force-kills processName on every host in parallel.
func (l *Launcher) TerminateAll(ctx context.Context, hosts []inventory.Host, processName string, elevate bool) remote.Results {
	return l.d.Execute(ctx, hosts, KillCommand(processName), remote.Options{Parallel: true, Elevate: elevate})
}

package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/detach"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
)

// RemoteProcess is an external binary run on a remote host.
type RemoteProcess interface {
	Start(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
	Kill(ctx context.Context) error
}

// ServerProcess is one replica of the replicated service. Start returns as
// soon as the replica is running in a detached session.
type ServerProcess struct {
	l         *detach.Launcher
	host      inventory.Host
	spec      inventory.ProcessSpec
	endpoints inventory.EndpointSet
	vr        bool

	session *detach.Session
}

func NewServerProcess(l *detach.Launcher, h inventory.Host, spec inventory.ProcessSpec, endpoints inventory.EndpointSet, vr bool) *ServerProcess {
	return &ServerProcess{l: l, host: h, spec: spec, endpoints: endpoints, vr: vr}
}

// Args is the server command line. Every replica gets the full endpoint list.
// The server parses --vr as a bool flag, so the value must be attached.
func (p *ServerProcess) Args() []string {
	return []string{
		p.spec.Binary,
		"--servers", p.endpoints.ReplicationArg(),
		"--vr=" + strconv.FormatBool(p.vr),
	}
}

func (p *ServerProcess) Start(ctx context.Context) error {
	s, err := p.l.LaunchDetached(ctx, p.host, shellquote.Join(p.Args()...), detach.LaunchOptions{
		Precommand:  p.spec.Precommand,
		SessionName: p.spec.ProcessName,
		Elevate:     p.spec.Elevate,
	})
	if err != nil {
		return err
	}
	p.session = &s
	return nil
}

func (p *ServerProcess) IsRunning(ctx context.Context) (bool, error) {
	if p.session == nil {
		return false, nil
	}
	return p.l.IsRunning(ctx, *p.session)
}

func (p *ServerProcess) Kill(ctx context.Context) error {
	return p.l.TerminateAll(ctx, []inventory.Host{p.host}, p.spec.ProcessName, p.spec.Elevate).Err()
}

// ClientProcess is the load generator. Start blocks until the client exits,
// the client timeout passes, or ctx is done.
type ClientProcess struct {
	d          *remote.Dispatcher
	l          *detach.Launcher
	host       inventory.Host
	spec       inventory.ProcessSpec
	endpoints  inventory.EndpointSet
	w          Workload
	remoteFile string

	output []byte
}

func NewClientProcess(d *remote.Dispatcher, l *detach.Launcher, h inventory.Host, spec inventory.ProcessSpec, endpoints inventory.EndpointSet, w Workload, remoteFile string) *ClientProcess {
	return &ClientProcess{d: d, l: l, host: h, spec: spec, endpoints: endpoints, w: w, remoteFile: remoteFile}
}

func (p *ClientProcess) Args() []string {
	return []string{
		p.spec.Binary,
		"--num_messages", strconv.Itoa(p.w.NumMessages),
		"--window_size", strconv.Itoa(p.w.WindowSize),
		"--servers", p.endpoints.RPCArg(),
		"--file", p.remoteFile,
	}
}

// ErrClientTimeout is returned by ClientProcess.Start when the client ran
// longer than its configured timeout.
var ErrClientTimeout = errors.New("client timed out")

func (p *ClientProcess) Start(ctx context.Context) error {
	command := shellquote.Join(p.Args()...)
	if p.spec.Precommand != "" {
		command = p.spec.Precommand + "; " + command
	}
	runCtx := ctx
	if t := p.spec.Timeout.D; t > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	res := p.d.Execute(runCtx, []inventory.Host{p.host}, command, remote.Options{Elevate: p.spec.Elevate})[p.host.Name]
	p.output = res.Output
	if res.Err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", ErrClientTimeout, p.spec.Timeout.D, res.Err)
	}
	return res.Err
}

// Output is what the client printed during its last run.
func (p *ClientProcess) Output() []byte { return p.output }

func (p *ClientProcess) IsRunning(ctx context.Context) (bool, error) {
	command := "pgrep -x " + shellquote.Join(p.spec.ProcessName)
	res := p.d.Execute(ctx, []inventory.Host{p.host}, command, remote.Options{})[p.host.Name]
	var cmdErr *remote.RemoteCommandError
	switch {
	case res.Err == nil:
		return true, nil
	case errors.As(res.Err, &cmdErr) && cmdErr.ExitStatus == 1:
		return false, nil
	}
	return false, res.Err
}

func (p *ClientProcess) Kill(ctx context.Context) error {
	return p.l.TerminateAll(ctx, []inventory.Host{p.host}, p.spec.ProcessName, p.spec.Elevate).Err()
}

var (
	_ RemoteProcess = new(ServerProcess)
	_ RemoteProcess = new(ClientProcess)
)

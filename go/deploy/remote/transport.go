package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/sshmux"
)

// Request is a single command to run on one host.
type Request struct {
	Command   string
	Stdin     io.Reader
	StdinName string
	Stdout    io.Writer
	Stderr    io.Writer
}

// Transport runs commands on remote hosts.
//
// Run returns the remote exit status. A non-nil error means the command
// could not be delivered (a *ConnectivityError) or ctx ended; a command that
// ran and failed is reported only through the exit status.
type Transport interface {
	Run(ctx context.Context, h inventory.Host, req Request) (int, error)
}

// sshConnectionFailure is the status ssh itself exits with when it cannot
// connect or authenticate.
const sshConnectionFailure = 255

// SSHTransport runs commands by executing the local ssh binary.
type SSHTransport struct {
	Config *inventory.CampaignConfig

	// Mux, if set, is used to reuse master connections.
	Mux *sshmux.Mux

	// Trace logs every ssh invocation.
	Trace bool
}

// SSHArgs returns the ssh options for h, not including the destination.
func SSHArgs(c *inventory.CampaignConfig, h inventory.Host) []string {
	p := c.Profile(h)
	args := []string{"-o", "BatchMode=yes"}
	if !p.UseSSHConfig {
		args = append(args, "-F", "/dev/null", "-o", "StrictHostKeyChecking=accept-new", "-i", p.KeyFile)
		if p.User != "" {
			args = append(args, "-l", p.User)
		}
	}
	return args
}

func (t *SSHTransport) Run(ctx context.Context, h inventory.Host, req Request) (int, error) {
	args := SSHArgs(t.Config, h)
	if t.Mux != nil {
		if sock := t.Mux.S(h.ExternalAddr); sock != "" {
			args = append(args, "-S", sock)
		}
	}
	args = append(args, h.ExternalAddr, req.Command)

	var logf func(string, ...interface{})
	if t.Trace {
		logf = LogWithPrefix(h.Name + ": ")
	}
	cmd := TracingCommand(ctx, logf, "ssh", args...)
	if req.Stdin != nil {
		cmd.SetStdin(req.StdinName, req.Stdin)
	}
	cmd.SetStdout("", req.Stdout)
	cmd.SetStderr("", req.Stderr)

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return classifyExit(h, err)
}

// classifyExit maps the result of an ssh run to a remote exit status.
func classifyExit(h inventory.Host, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, &ConnectivityError{Host: h.Name, Err: err}
	}
	status := exitErr.ExitCode()
	if status == sshConnectionFailure {
		return status, &ConnectivityError{Host: h.Name, Err: fmt.Errorf("ssh exited with status %d", status)}
	}
	return status, nil
}

var _ Transport = new(SSHTransport)

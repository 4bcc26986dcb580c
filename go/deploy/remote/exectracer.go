package remote

import (
	"context"
	"io"
	"os/exec"
	"strings"
)

// TracingCmd is an exec.Cmd that logs the command line, and where its
// stdin/stdout/stderr go, before running. Tracing is off when logf is nil.
type TracingCmd struct {
	*exec.Cmd
	logf                           func(format string, args ...interface{})
	stdinSrc, stdoutDst, stderrDst string
}

func (c *TracingCmd) logRun() {
	if c.logf == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString("exec: ")
	sb.WriteString(c.Cmd.String())
	if c.stdinSrc != "" {
		sb.WriteString(" stdin:")
		sb.WriteString(c.stdinSrc)
	}
	if c.stdoutDst != "" {
		sb.WriteString(" stdout:")
		sb.WriteString(c.stdoutDst)
	}
	if c.stderrDst != "" {
		sb.WriteString(" stderr:")
		sb.WriteString(c.stderrDst)
	}
	c.logf("%s", sb.String())
}

func TracingCommand(ctx context.Context, logf func(format string, args ...interface{}),
	name string, args ...string) *TracingCmd {
	return &TracingCmd{Cmd: exec.CommandContext(ctx, name, args...), logf: logf}
}

func (c *TracingCmd) CombinedOutput() ([]byte, error) {
	c.logRun()
	return c.Cmd.CombinedOutput()
}

func (c *TracingCmd) Run() error {
	c.logRun()
	return c.Cmd.Run()
}

func (c *TracingCmd) Start() error {
	c.logRun()
	return c.Cmd.Start()
}

func (c *TracingCmd) SetStdin(src string, r io.Reader) {
	c.Cmd.Stdin = r
	c.stdinSrc = src
}

func (c *TracingCmd) SetStdout(dst string, w io.Writer) {
	c.Cmd.Stdout = w
	c.stdoutDst = dst
}

func (c *TracingCmd) SetStderr(dst string, w io.Writer) {
	c.Cmd.Stderr = w
	c.stderrDst = dst
}

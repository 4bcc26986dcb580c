package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/multierrgroup"
)

type Options struct {
	// Parallel runs the command on all hosts at once. Otherwise hosts are
	// visited in order; a failing host does not stop later ones.
	Parallel bool
	// Elevate runs the command with sudo.
	Elevate bool

	Stdin     []byte
	StdinName string
}

type Result struct {
	Host       string
	ExitStatus int
	Output     []byte
	// Err is nil on success, a *RemoteCommandError on a non-zero exit, and
	// a *ConnectivityError (or the context's error) if the command never ran.
	Err error
}

// Results maps host name to the outcome on that host.
type Results map[string]Result

// Failed returns the sorted names of hosts whose command did not succeed.
func (r Results) Failed() []string {
	var failed []string
	for h, res := range r {
		if res.Err != nil {
			failed = append(failed, h)
		}
	}
	sort.Strings(failed)
	return failed
}

// Err aggregates the per-host errors, or returns nil if every host succeeded.
func (r Results) Err() error {
	failed := r.Failed()
	errs := make([]error, len(failed))
	for i, h := range failed {
		errs[i] = r[h].Err
	}
	return multierrgroup.Join(errs...)
}

type Dispatcher struct {
	t     Transport
	retry inventory.RetrySpec
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(t Transport, retry inventory.RetrySpec) *Dispatcher {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Dispatcher{t: t, retry: retry, sleep: Sleep}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Elevated wraps command so that it runs under sudo.
func Elevated(command string) string {
	return shellquote.Join("sudo", "sh", "-c", command)
}

// Execute runs command on every host and reports the outcome per host.
// Duplicate hosts are run once.
func (d *Dispatcher) Execute(ctx context.Context, hosts []inventory.Host, command string, opts Options) Results {
	if opts.Elevate {
		command = Elevated(command)
	}
	results := make(Results, len(hosts))
	var uniq []inventory.Host
	seen := make(map[string]bool)
	for _, h := range hosts {
		if !seen[h.Name] {
			seen[h.Name] = true
			uniq = append(uniq, h)
		}
	}

	if !opts.Parallel {
		for _, h := range uniq {
			results[h.Name] = d.runOne(ctx, h, command, opts)
		}
		return results
	}

	var (
		mu sync.Mutex
		eg multierrgroup.Group
	)
	for _, h := range uniq {
		h := h
		eg.Go(func() error {
			res := d.runOne(ctx, h, command, opts)
			mu.Lock()
			results[h.Name] = res
			mu.Unlock()
			return res.Err
		})
	}
	eg.Wait()
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, h inventory.Host, command string, opts Options) Result {
	log := HostLog("dispatch", h)
	backoff := d.retry.Backoff.D
	for attempt := 1; ; attempt++ {
		var out bytes.Buffer
		req := Request{Command: command, Stdout: &out, Stderr: &out}
		if opts.Stdin != nil {
			req.Stdin = bytes.NewReader(opts.Stdin)
			req.StdinName = opts.StdinName
		}
		status, err := d.t.Run(ctx, h, req)

		var connErr *ConnectivityError
		if errors.As(err, &connErr) && attempt < d.retry.Attempts && ctx.Err() == nil {
			log.Warnf("attempt %d/%d: %v; retrying in %v", attempt, d.retry.Attempts, err, backoff)
			if d.sleep(ctx, backoff) == nil {
				backoff *= 2
				continue
			}
		}

		res := Result{Host: h.Name, ExitStatus: status, Output: out.Bytes()}
		switch {
		case err != nil:
			res.Err = err
		case status != 0:
			res.Err = &RemoteCommandError{
				Host:       h.Name,
				Command:    command,
				ExitStatus: status,
				Output:     res.Output,
			}
		}
		if res.Err != nil {
			log.Debugf("failed: %v", res.Err)
		}
		return res
	}
}

// Put writes data to remotePath on every host in parallel.
func (d *Dispatcher) Put(ctx context.Context, hosts []inventory.Host, remotePath string, data []byte, mode os.FileMode) Results {
	q := shellquote.Join(remotePath)
	command := fmt.Sprintf("cat >%[1]s && chmod %#[2]o %[1]s", q, uint32(mode.Perm()))
	return d.Execute(ctx, hosts, command, Options{
		Parallel:  true,
		Stdin:     data,
		StdinName: remotePath,
	})
}

// Fetch streams remotePath on h into w. It makes a single attempt since a
// retry could leave partial data in w.
func (d *Dispatcher) Fetch(ctx context.Context, h inventory.Host, remotePath string, w io.Writer) error {
	var stderr bytes.Buffer
	command := "cat " + shellquote.Join(remotePath)
	status, err := d.t.Run(ctx, h, Request{Command: command, Stdout: w, Stderr: &stderr})
	if err != nil {
		return err
	}
	if status != 0 {
		return &RemoteCommandError{Host: h.Name, Command: command, ExitStatus: status, Output: stderr.Bytes()}
	}
	return nil
}

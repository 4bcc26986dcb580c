// Package remotetest provides a scripted remote.Transport for tests.
package remotetest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
)

type Call struct {
	Host    string
	Command string
	Stdin   string
}

// Reply is what a scripted command returns. Output goes to the request's
// stdout.
type Reply struct {
	Status int
	Output string
	Err    error
}

// Transport records every call and answers with Handler. A nil Handler
// answers every command with success.
type Transport struct {
	Handler func(host, command string) Reply

	mu    sync.Mutex
	calls []Call
}

func (t *Transport) Run(ctx context.Context, h inventory.Host, req remote.Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	c := Call{Host: h.Name, Command: req.Command}
	if req.Stdin != nil {
		b, _ := io.ReadAll(req.Stdin)
		c.Stdin = string(b)
	}
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.mu.Unlock()

	r := Reply{}
	if t.Handler != nil {
		r = t.Handler(h.Name, req.Command)
	}
	if r.Output != "" && req.Stdout != nil {
		io.WriteString(req.Stdout, r.Output)
	}
	return r.Status, r.Err
}

func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Matching returns the calls whose command contains substr.
func (t *Transport) Matching(substr string) []Call {
	var got []Call
	for _, c := range t.Calls() {
		if strings.Contains(c.Command, substr) {
			got = append(got, c)
		}
	}
	return got
}

var _ remote.Transport = new(Transport)

package remote_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/deploy/remote/remotetest"
)

func mkHosts(names ...string) []inventory.Host {
	hosts := make([]inventory.Host, len(names))
	for i, n := range names {
		hosts[i] = inventory.Host{Name: n, ExternalAddr: "u@" + n}
	}
	return hosts
}

func keys(r remote.Results) []string {
	var ks []string
	for k := range r {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func noRetry() inventory.RetrySpec { return inventory.RetrySpec{Attempts: 1} }

func TestExecuteKeySetMatchesHosts(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		for n := 0; n < 6; n++ {
			var names []string
			for i := 0; i < n; i++ {
				names = append(names, fmt.Sprintf("h%d", i))
			}
			tr := &remotetest.Transport{}
			d := remote.NewDispatcher(tr, noRetry())
			res := d.Execute(context.Background(), mkHosts(names...), "true", remote.Options{Parallel: parallel})
			if diff := cmp.Diff(names, keys(res)); diff != "" && n > 0 {
				t.Errorf("parallel=%v n=%d: key set diff (-want +got):\n%s", parallel, n, diff)
			}
			if len(res) != n {
				t.Errorf("parallel=%v: got %d results, want %d", parallel, len(res), n)
			}
		}
	}
}

func TestExecuteDuplicateHostsRunOnce(t *testing.T) {
	tr := &remotetest.Transport{}
	d := remote.NewDispatcher(tr, noRetry())
	res := d.Execute(context.Background(), mkHosts("a", "b", "a"), "true", remote.Options{Parallel: true})
	if diff := cmp.Diff([]string{"a", "b"}, keys(res)); diff != "" {
		t.Errorf("key set diff (-want +got):\n%s", diff)
	}
	if got := len(tr.Calls()); got != 2 {
		t.Errorf("got %d calls, want 2", got)
	}
}

func TestExecuteSequentialContinuesAfterFailure(t *testing.T) {
	tr := &remotetest.Transport{
		Handler: func(host, command string) remotetest.Reply {
			if host == "b" {
				return remotetest.Reply{Status: 3, Output: "disk full"}
			}
			return remotetest.Reply{Output: "ok " + host}
		},
	}
	d := remote.NewDispatcher(tr, noRetry())
	res := d.Execute(context.Background(), mkHosts("a", "b", "c"), "make", remote.Options{})

	var order []string
	for _, c := range tr.Calls() {
		order = append(order, c.Host)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Errorf("visit order diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, res.Failed()); diff != "" {
		t.Errorf("failed hosts diff (-want +got):\n%s", diff)
	}
	var cmdErr *remote.RemoteCommandError
	if !errors.As(res.Err(), &cmdErr) {
		t.Fatalf("want RemoteCommandError, got %v", res.Err())
	}
	if cmdErr.Host != "b" || cmdErr.ExitStatus != 3 || string(cmdErr.Output) != "disk full" {
		t.Errorf("unexpected error contents: %+v", cmdErr)
	}
	if got := string(res["c"].Output); got != "ok c" {
		t.Errorf("c output = %q", got)
	}
}

func TestExecuteElevate(t *testing.T) {
	tr := &remotetest.Transport{}
	d := remote.NewDispatcher(tr, noRetry())
	d.Execute(context.Background(), mkHosts("a"), "yum install -y tmux", remote.Options{Elevate: true})
	want := "sudo sh -c 'yum install -y tmux'"
	if got := tr.Calls()[0].Command; got != want {
		t.Errorf("got command %q, want %q", got, want)
	}
}

func TestRetryOnlyConnectivityErrors(t *testing.T) {
	var attempts int32
	tr := &remotetest.Transport{
		Handler: func(host, command string) remotetest.Reply {
			n := atomic.AddInt32(&attempts, 1)
			if host == "flaky" && n < 3 {
				return remotetest.Reply{Status: 255, Err: &remote.ConnectivityError{Host: host, Err: errors.New("reset")}}
			}
			if host == "broken" {
				return remotetest.Reply{Status: 1}
			}
			return remotetest.Reply{}
		},
	}
	d := remote.NewDispatcher(tr, inventory.RetrySpec{Attempts: 5, Backoff: inventory.Duration{D: time.Millisecond}})

	res := d.Execute(context.Background(), mkHosts("flaky"), "true", remote.Options{})
	if err := res.Err(); err != nil {
		t.Errorf("flaky host should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("flaky host: got %d attempts, want 3", got)
	}

	atomic.StoreInt32(&attempts, 0)
	res = d.Execute(context.Background(), mkHosts("broken"), "false", remote.Options{})
	if res.Err() == nil {
		t.Error("broken host: want error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("non-zero exit must not be retried: got %d attempts", got)
	}
}

func TestRetryGivesUp(t *testing.T) {
	tr := &remotetest.Transport{
		Handler: func(host, command string) remotetest.Reply {
			return remotetest.Reply{Status: 255, Err: &remote.ConnectivityError{Host: host, Err: errors.New("no route")}}
		},
	}
	d := remote.NewDispatcher(tr, inventory.RetrySpec{Attempts: 2, Backoff: inventory.Duration{D: time.Millisecond}})
	res := d.Execute(context.Background(), mkHosts("a"), "true", remote.Options{})
	var connErr *remote.ConnectivityError
	if !errors.As(res.Err(), &connErr) {
		t.Fatalf("want ConnectivityError, got %v", res.Err())
	}
	if got := len(tr.Calls()); got != 2 {
		t.Errorf("got %d attempts, want 2", got)
	}
}

func TestPut(t *testing.T) {
	tr := &remotetest.Transport{}
	d := remote.NewDispatcher(tr, noRetry())
	res := d.Put(context.Background(), mkHosts("a", "b"), "/tmp/setup.sh", []byte("#!/bin/sh\n"), 0o755)
	if err := res.Err(); err != nil {
		t.Fatal(err)
	}
	for _, c := range tr.Calls() {
		if c.Command != "cat >/tmp/setup.sh && chmod 0755 /tmp/setup.sh" {
			t.Errorf("%s: unexpected command %q", c.Host, c.Command)
		}
		if c.Stdin != "#!/bin/sh\n" {
			t.Errorf("%s: unexpected stdin %q", c.Host, c.Stdin)
		}
	}
}

func TestFetch(t *testing.T) {
	tr := &remotetest.Transport{
		Handler: func(host, command string) remotetest.Reply {
			if strings.HasSuffix(command, "missing.csv") {
				return remotetest.Reply{Status: 1}
			}
			return remotetest.Reply{Output: "0, 0, 10\n"}
		},
	}
	d := remote.NewDispatcher(tr, noRetry())
	var sb strings.Builder
	if err := d.Fetch(context.Background(), mkHosts("c")[0], "out.csv", &sb); err != nil {
		t.Fatal(err)
	}
	if sb.String() != "0, 0, 10\n" {
		t.Errorf("got %q", sb.String())
	}
	err := d.Fetch(context.Background(), mkHosts("c")[0], "missing.csv", &sb)
	var cmdErr *remote.RemoteCommandError
	if !errors.As(err, &cmdErr) {
		t.Errorf("want RemoteCommandError, got %v", err)
	}
}

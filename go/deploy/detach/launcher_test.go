package detach_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mgentili/phat-bench/go/deploy/detach"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/deploy/remote/remotetest"
)

func testConfig(t *testing.T) *inventory.CampaignConfig {
	t.Helper()
	f := inventory.DefaultFile()
	f.DefaultProfile = inventory.Profile{UseSSHConfig: true}
	f.Roles = map[inventory.Role]inventory.RoleSpec{
		inventory.RoleServer: {Hosts: []inventory.Host{
			{Name: "s0", ExternalAddr: "s0", PrivateAddr: "10.0.0.1"},
			{Name: "s1", ExternalAddr: "s1", PrivateAddr: "10.0.0.2"},
		}},
		inventory.RoleClient: {Hosts: []inventory.Host{{Name: "c0", ExternalAddr: "c0"}}},
	}
	c, err := inventory.New(f)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// fakeHost emulates tmux and pkill on one machine: sessions live until
// killed, independent of the ssh call that created them.
type fakeHost struct {
	mu        sync.Mutex
	hasTmux   bool
	installOK bool
	sessions  map[string]bool
}

func (f *fakeHost) handle(host, command string) remotetest.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs := strings.Fields(command)
	switch {
	case strings.HasPrefix(command, "test -x"):
		if f.hasTmux {
			return remotetest.Reply{}
		}
		return remotetest.Reply{Status: 1}
	case strings.Contains(command, "install -y"):
		if !f.installOK {
			return remotetest.Reply{Status: 1, Output: "No package tmux available."}
		}
		f.hasTmux = true
		return remotetest.Reply{}
	case strings.Contains(command, "new-session"):
		f.sessions[fs[2]] = true
		return remotetest.Reply{}
	case strings.Contains(command, "has-session"):
		if f.sessions[fs[2]] {
			return remotetest.Reply{}
		}
		return remotetest.Reply{Status: 1, Output: "no server running"}
	case strings.HasPrefix(command, "pkill"):
		f.sessions = make(map[string]bool)
		return remotetest.Reply{}
	}
	return remotetest.Reply{Status: 127}
}

func newFake(hasTmux, installOK bool) (*fakeHost, *remotetest.Transport) {
	f := &fakeHost{hasTmux: hasTmux, installOK: installOK, sessions: make(map[string]bool)}
	return f, &remotetest.Transport{Handler: f.handle}
}

func TestLaunchThenRunning(t *testing.T) {
	c := testConfig(t)
	_, tr := newFake(true, true)
	l := detach.NewLauncher(remote.NewDispatcher(tr, c.Retry()), c)
	servers, _ := c.Resolve(inventory.RoleServer)
	ctx := context.Background()

	s, err := l.LaunchDetached(ctx, servers[0], "qserver --vr=true", detach.LaunchOptions{
		Precommand:  "export PATH=$PATH:$HOME/go/bin",
		SessionName: "qserver",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.Name, "qserver-") {
		t.Errorf("session name %q lacks prefix", s.Name)
	}
	// Each call in the fake is a separate connection, so this also checks
	// the process survives the launching connection.
	running, err := l.IsRunning(ctx, s)
	if err != nil || !running {
		t.Fatalf("IsRunning = %v, %v; want true, nil", running, err)
	}
	launch := tr.Matching("new-session")[0].Command
	if !strings.Contains(launch, "'export PATH=$PATH:$HOME/go/bin; qserver --vr=true'") {
		t.Errorf("precommand not prepended: %s", launch)
	}

	if err := l.TerminateAll(ctx, servers[:1], "qserver", false).Err(); err != nil {
		t.Fatal(err)
	}
	running, err = l.IsRunning(ctx, s)
	if err != nil || running {
		t.Errorf("after terminate IsRunning = %v, %v; want false, nil", running, err)
	}
}

func TestSessionNamesUnique(t *testing.T) {
	c := testConfig(t)
	_, tr := newFake(true, true)
	l := detach.NewLauncher(remote.NewDispatcher(tr, c.Retry()), c)
	servers, _ := c.Resolve(inventory.RoleServer)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		s, err := l.LaunchDetached(context.Background(), servers[0], "sleep 100", detach.LaunchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.Name] {
			t.Fatalf("duplicate session name %s", s.Name)
		}
		seen[s.Name] = true
	}
}

func TestEnsureSessionToolInstalls(t *testing.T) {
	c := testConfig(t)
	f, tr := newFake(false, true)
	l := detach.NewLauncher(remote.NewDispatcher(tr, c.Retry()), c)
	servers, _ := c.Resolve(inventory.RoleServer)
	if err := l.EnsureSessionTool(context.Background(), servers[0]); err != nil {
		t.Fatal(err)
	}
	if !f.hasTmux {
		t.Error("tmux was not installed")
	}
	install := tr.Matching("install -y")
	if len(install) != 1 || !strings.HasPrefix(install[0].Command, "sudo ") {
		t.Errorf("want one elevated install, got %+v", install)
	}

	// Already installed: only the check runs.
	before := len(tr.Calls())
	if err := l.EnsureSessionTool(context.Background(), servers[0]); err != nil {
		t.Fatal(err)
	}
	if got := len(tr.Calls()) - before; got != 1 {
		t.Errorf("second EnsureSessionTool made %d calls, want 1", got)
	}
}

func TestLaunchFailsFastWithoutSessionTool(t *testing.T) {
	c := testConfig(t)
	_, tr := newFake(false, false)
	l := detach.NewLauncher(remote.NewDispatcher(tr, c.Retry()), c)
	servers, _ := c.Resolve(inventory.RoleServer)
	if _, err := l.LaunchDetached(context.Background(), servers[0], "qserver", detach.LaunchOptions{}); err == nil {
		t.Fatal("want error when tmux cannot be installed")
	}
	if got := tr.Matching("qserver"); len(got) != 0 {
		t.Errorf("command must not run without a session tool, got %+v", got)
	}
}

func TestTerminateAllIdempotent(t *testing.T) {
	c := testConfig(t)
	_, tr := newFake(true, true)
	l := detach.NewLauncher(remote.NewDispatcher(tr, c.Retry()), c)
	servers, _ := c.Resolve(inventory.RoleServer)
	for i := 0; i < 2; i++ {
		res := l.TerminateAll(context.Background(), servers, "qserver", false)
		if err := res.Err(); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if len(res) != len(servers) {
			t.Errorf("round %d: got %d results, want %d", i, len(res), len(servers))
		}
	}
}

func TestKillCommand(t *testing.T) {
	if got, want := detach.KillCommand("qserver"), "pkill -9 -x qserver; test $? -le 1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

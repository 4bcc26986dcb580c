package sshmux_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mgentili/phat-bench/go/sshmux"
)

const jsonMux = `{
  "muxDir": "/tmp/XYZ",
  "destSockets": {
    "u@addr": "/tmp/XYZ/sock.1",
	"u2@addr2.com": "/tmp/XYZ/sock.2",
	"10.0.12.254": "/tmp/XYZ/sock.3",
	"z-1@10.0.12.254": "/tmp/XYZ/sock.4",
	"z32@10::254": "/tmp/XYZ/sock.5"
  },
  "counter": 5
}`

func TestMuxJSONUnmarshal(t *testing.T) {
	var d1 sshmux.Mux
	if err := json.Unmarshal([]byte(jsonMux), &d1); err != nil {
		t.Fatalf("failed to unmarshal d1: %v", err)
	}
	json2, err := d1.MarshalJSON()
	if err != nil {
		t.Fatalf("failed to marshal d1: %v", err)
	}
	var d2 sshmux.Mux
	if err := json.Unmarshal([]byte(json2), &d2); err != nil {
		t.Fatalf("failed to unmarshal d2: %v", err)
	}

	checkS := func(dst, want string) {
		t.Helper()
		if got1 := d1.S(dst); got1 != want {
			t.Errorf("d1.S(%s): got %s want %s", dst, got1, want)
		}
		if got2 := d2.S(dst); got2 != want {
			t.Errorf("d2.S(%s): got %s want %s", dst, got2, want)
		}
	}

	checkS("u@addr", "/tmp/XYZ/sock.1")
	checkS("u2@addr2.com", "/tmp/XYZ/sock.2")
	checkS("10.0.12.254", "/tmp/XYZ/sock.3")
	checkS("z-1@10.0.12.254", "/tmp/XYZ/sock.4")
	checkS("z32@10::254", "/tmp/XYZ/sock.5")
}

func TestMuxJSONRoundTrip(t *testing.T) {
	var d1 sshmux.Mux
	if err := json.Unmarshal([]byte(jsonMux), &d1); err != nil {
		t.Fatalf("failed to unmarshal d1: %v", err)
	}
	json2, err := d1.MarshalJSON()
	if err != nil {
		t.Fatalf("failed to marshal d1: %v", err)
	}
	var d2 sshmux.Mux
	if err := json.Unmarshal([]byte(json2), &d2); err != nil {
		t.Fatalf("failed to unmarshal d2: %v", err)
	}
	json3, err := d2.MarshalJSON()
	if err != nil {
		t.Fatalf("failed to marshal d2: %v", err)
	}
	if !bytes.Equal(json2, json3) {
		t.Errorf("did not roundtrip correctly:\nA = %s\nB = %s", json2, json3)
	}
}

func TestWrapper(t *testing.T) {
	const want = `#!/bin/bash

set -e

sockfile=""

for arg in "$@"; do
	if [[ $arg == 10.0.12.254 ]]; then
		sockfile=/tmp/XYZ/sock.3
		break
	fi
	if [[ $arg == u2@addr2.com ]]; then
		sockfile=/tmp/XYZ/sock.2
		break
	fi
	if [[ $arg == u@addr ]]; then
		sockfile=/tmp/XYZ/sock.1
		break
	fi
	if [[ $arg == z-1@10.0.12.254 ]]; then
		sockfile=/tmp/XYZ/sock.4
		break
	fi
	if [[ $arg == z32@10::254 ]]; then
		sockfile=/tmp/XYZ/sock.5
		break
	fi
done

if [[ -n $sockfile ]]; then
	exec /PATH/TO/ssh -S "$sockfile" "$@"
fi
exec /PATH/TO/ssh "$@"
`
	var d1 sshmux.Mux
	if err := json.Unmarshal([]byte(jsonMux), &d1); err != nil {
		t.Fatalf("failed to unmarshal d1: %v", err)
	}
	got, err := d1.Wrapper(func(s string) (string, error) { return "/PATH/TO/" + s, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got != want: diff (= got - want):\n%s", cmp.Diff(want, got))
	}
}

type fakeSSH struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool
}

func (f *fakeSSH) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail[args[len(args)-1]] {
		return []byte("Permission denied (publickey)."), errors.New("exit status 255")
	}
	return nil, nil
}

func TestCreateMasterAndRelease(t *testing.T) {
	f := &fakeSSH{fail: map[string]bool{"bad.example.net": true}}
	m := sshmux.NewMux("/tmp/XYZ")
	m.Run = f.run
	ctx := context.Background()

	profile := []string{"-o", "BatchMode=yes", "-l", "alice"}
	if err := m.CreateMaster(ctx, "s0.example.net", profile); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateMaster(ctx, "bad.example.net", profile); err == nil {
		t.Error("want error for failed master")
	}
	want := []string{"ssh", "-M", "-S", "/tmp/XYZ/sock.1", "-o", "ControlPersist=yes", "-f", "-N",
		"-o", "BatchMode=yes", "-l", "alice", "s0.example.net"}
	if diff := cmp.Diff(want, f.calls[0]); diff != "" {
		t.Errorf("master args (-want +got):\n%s", diff)
	}
	if got := m.S("s0.example.net"); got != "/tmp/XYZ/sock.1" {
		t.Errorf("S(s0) = %q", got)
	}
	if got := m.S("bad.example.net"); got != "" {
		t.Errorf("failed master registered socket %q", got)
	}

	if err := m.Check(ctx, "s0.example.net"); err != nil {
		t.Errorf("Check: %v", err)
	}
	if err := m.ReleaseAll(ctx); err != nil {
		t.Fatal(err)
	}
	last := f.calls[len(f.calls)-1]
	if diff := cmp.Diff([]string{"ssh", "-S", "/tmp/XYZ/sock.1", "-O", "exit", "s0.example.net"}, last); diff != "" {
		t.Errorf("release args (-want +got):\n%s", diff)
	}
	if got := m.S("s0.example.net"); got != "" {
		t.Errorf("socket still registered after release: %q", got)
	}
}

func TestDropDead(t *testing.T) {
	f := &fakeSSH{}
	m := sshmux.NewMux("/tmp/XYZ")
	m.Run = f.run
	ctx := context.Background()
	for _, dst := range []string{"s0.example.net", "s1.example.net"} {
		if err := m.CreateMaster(ctx, dst, nil); err != nil {
			t.Fatal(err)
		}
	}

	f.fail = map[string]bool{"s1.example.net": true}
	dropped := m.DropDead(ctx)
	if len(dropped) != 1 || dropped["s1.example.net"] == nil {
		t.Errorf("dropped = %v, want only s1.example.net", dropped)
	}
	if got := m.S("s1.example.net"); got != "" {
		t.Errorf("dead master still registered: %q", got)
	}
	if got := m.S("s0.example.net"); got != "/tmp/XYZ/sock.1" {
		t.Errorf("S(s0) = %q, want live master kept", got)
	}
	last := f.calls[len(f.calls)-1]
	if diff := cmp.Diff([]string{"ssh", "-S", "/tmp/XYZ/sock.2", "-O", "check", "s1.example.net"}, last); diff != "" {
		t.Errorf("check args (-want +got):\n%s", diff)
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	m := sshmux.NewMux(dir)
	m.Run = (&fakeSSH{}).run
	if err := m.CreateMaster(context.Background(), "c0.example.net", nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Skipf("no ssh binary to wrap: %v", err)
	}
	wrapper, err := os.ReadFile(filepath.Join(dir, "ssh"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(wrapper), "c0.example.net") {
		t.Errorf("wrapper does not route c0:\n%s", wrapper)
	}
	loaded, err := sshmux.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := loaded.S("c0.example.net"), filepath.Join(dir, "sock.1"); got != want {
		t.Errorf("loaded S(c0) = %q, want %q", got, want)
	}
}

// Package sshmux keeps one ssh master connection per destination so that
// repeated commands against the same host skip the handshake.
package sshmux

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/google/renameio"
	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/multierrgroup"
)

const stateFile = "mux.json"

type muxData struct {
	MuxDir      string            `json:"muxDir"`
	DestSockets map[string]string `json:"destSockets"`
	Counter     int               `json:"counter"`
}

// Runner runs a local command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Mux struct {
	// Run executes ssh. Defaults to os/exec.
	Run Runner

	mu sync.Mutex
	d  muxData
}

func NewMux(muxDir string) *Mux {
	return &Mux{
		d: muxData{
			MuxDir:      muxDir,
			DestSockets: make(map[string]string),
		},
	}
}

// Load reads the mux state saved in muxDir.
func Load(muxDir string) (*Mux, error) {
	data, err := os.ReadFile(filepath.Join(muxDir, stateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read mux state: %w", err)
	}
	m := new(Mux)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode mux state: %w", err)
	}
	return m, nil
}

// Save writes the mux state and the ssh wrapper script into the mux dir.
func (m *Mux) Save() error {
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	dir := m.Dir()
	if err := renameio.WriteFile(filepath.Join(dir, stateFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write mux state: %w", err)
	}
	wrapper, err := m.Wrapper(exec.LookPath)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(dir, "ssh"), []byte(wrapper), 0o755); err != nil {
		return fmt.Errorf("failed to write ssh wrapper: %w", err)
	}
	return nil
}

func (m *Mux) Dir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.MuxDir
}

func (m *Mux) run(ctx context.Context, args ...string) ([]byte, error) {
	if m.Run != nil {
		return m.Run(ctx, "ssh", args...)
	}
	return execRunner(ctx, "ssh", args...)
}

var sshWrapperTmpl = template.Must(template.New("sshwrapper").Parse(`
#!/bin/bash

set -e

sockfile=""

for arg in "$@"; do
{{- range .DestSockets }}
	if [[ $arg == {{ .Dest }} ]]; then
		sockfile={{ .Socket }}
		break
	fi
{{- end }}
done

if [[ -n $sockfile ]]; then
	exec {{.SSHBinaryPath}} -S "$sockfile" "$@"
fi
exec {{.SSHBinaryPath}} "$@"
`))

// Wrapper returns a bash script that execs ssh with the right control socket
// for its destination. Put the mux dir first on PATH to use it by hand.
func (m *Mux) Wrapper(lookPath func(string) (string, error)) (string, error) {
	sshToolPath, err := lookPath("ssh")
	if err != nil {
		return "", fmt.Errorf("failed to find ssh binary: %w", err)
	}

	type destAndSocket struct {
		Dest   string
		Socket string
	}
	data := struct {
		SSHBinaryPath string
		DestSockets   []destAndSocket
	}{SSHBinaryPath: sshToolPath}

	m.mu.Lock()
	for d, s := range m.d.DestSockets {
		data.DestSockets = append(data.DestSockets,
			destAndSocket{Dest: shellquote.Join(d), Socket: shellquote.Join(s)})
	}
	m.mu.Unlock()

	sort.Slice(data.DestSockets, func(i, j int) bool {
		return data.DestSockets[i].Dest < data.DestSockets[j].Dest
	})
	var sb strings.Builder
	if err := sshWrapperTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to generate wrapper: %w", err)
	}
	return strings.TrimPrefix(sb.String(), "\n"), nil
}

func (m *Mux) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Unmarshal(data, &m.d)
}

func (m *Mux) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(&m.d)
}

// MasterArgs are the ssh arguments that start a backgrounded master for dst.
func MasterArgs(socketPath, dst string, sshArgs []string) []string {
	args := []string{"-M", "-S", socketPath, "-o", "ControlPersist=yes", "-f", "-N"}
	args = append(args, sshArgs...)
	return append(args, dst)
}

// CreateMaster starts a master connection to dst and waits until it has
// authenticated. sshArgs carry the connection profile (key, user, options).
func (m *Mux) CreateMaster(ctx context.Context, dst string, sshArgs []string) error {
	m.mu.Lock()
	m.d.Counter++
	socketPath := filepath.Join(m.d.MuxDir, "sock."+strconv.Itoa(m.d.Counter))
	m.mu.Unlock()

	if out, err := m.run(ctx, MasterArgs(socketPath, dst, sshArgs)...); err != nil {
		return fmt.Errorf("failed to start master for dst %q: %v; output: %s", dst, err, out)
	}

	m.mu.Lock()
	m.d.DestSockets[dst] = socketPath
	m.mu.Unlock()
	return nil
}

// Check asks the master for dst whether it is still alive.
func (m *Mux) Check(ctx context.Context, dst string) error {
	sock := m.S(dst)
	if sock == "" {
		return fmt.Errorf("no master for dst %q", dst)
	}
	if out, err := m.run(ctx, "-S", sock, "-O", "check", dst); err != nil {
		return fmt.Errorf("master for dst %q is down: %v; output: %s", dst, err, out)
	}
	return nil
}

// DropDead checks every master and forgets the ones that no longer answer,
// so commands to those destinations fall back to a fresh connection. It
// returns the check error of each dropped destination.
func (m *Mux) DropDead(ctx context.Context) map[string]error {
	m.mu.Lock()
	dsts := make([]string, 0, len(m.d.DestSockets))
	for dst := range m.d.DestSockets {
		dsts = append(dsts, dst)
	}
	m.mu.Unlock()
	sort.Strings(dsts)

	dropped := make(map[string]error)
	for _, dst := range dsts {
		if err := m.Check(ctx, dst); err != nil {
			dropped[dst] = err
		}
	}
	m.mu.Lock()
	for dst := range dropped {
		delete(m.d.DestSockets, dst)
	}
	m.mu.Unlock()
	return dropped
}

// ReleaseAll stops every master, continuing past failures.
func (m *Mux) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	dsts := make([]string, 0, len(m.d.DestSockets))
	for dst := range m.d.DestSockets {
		dsts = append(dsts, dst)
	}
	m.mu.Unlock()
	sort.Strings(dsts)

	errs := make([]error, len(dsts))
	for i, dst := range dsts {
		errs[i] = m.Release(ctx, dst)
	}
	return multierrgroup.Join(errs...)
}

func (m *Mux) Release(ctx context.Context, dst string) error {
	sock := m.S(dst)
	if sock == "" {
		return nil
	}
	if out, err := m.run(ctx, "-S", sock, "-O", "exit", dst); err != nil {
		return fmt.Errorf("failed to release master for dst %q: %v; output: %s", dst, err, out)
	}
	m.mu.Lock()
	delete(m.d.DestSockets, dst)
	m.mu.Unlock()
	return nil
}

// S returns the control socket for dst, or "" if there is none.
func (m *Mux) S(dst string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DestSockets[dst]
}

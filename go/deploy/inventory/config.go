package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ghodss/yaml"
	"github.com/kballard/go-shellquote"
)

type Duration struct{ D time.Duration }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.D.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	var err error
	d.D, err = time.ParseDuration(s)
	return err
}

type RoleSpec struct {
	Hosts   []Host   `json:"hosts"`
	Profile *Profile `json:"profile,omitempty"`
}

type Ports struct {
	Replication int `json:"replication"`
	RPC         int `json:"rpc"`
}

type ProcessSpec struct {
	Binary      string   `json:"binary"`
	ProcessName string   `json:"processName"`
	Precommand  string   `json:"precommand,omitempty"`
	Elevate     bool     `json:"elevate,omitempty"`
	Timeout     Duration `json:"timeout"`
}

type WarmupMode string

const (
	WarmupFixed WarmupMode = "fixed"
	WarmupProbe WarmupMode = "probe"
)

type WarmupSpec struct {
	Mode          WarmupMode `json:"mode"`
	Duration      Duration   `json:"duration"`
	ProbeTimeout  Duration   `json:"probeTimeout"`
	ProbeInterval Duration   `json:"probeInterval"`
}

type ProvisionSpec struct {
	PackageManager   string   `json:"packageManager"`
	Packages         []string `json:"packages"`
	SetupScript      string   `json:"setupScript,omitempty"`
	RemoteScriptPath string   `json:"remoteScriptPath"`

	// Binaries are local executables copied into BinDir (relative to the
	// remote home directory) on every host.
	Binaries []string `json:"binaries,omitempty"`
	BinDir   string   `json:"binDir"`
}

type SessionToolSpec struct {
	Path    string `json:"path"`
	Package string `json:"package"`
}

type RetrySpec struct {
	Attempts int      `json:"attempts"`
	Backoff  Duration `json:"backoff"`
}

// File is the on-disk form of a campaign config.
type File struct {
	DefaultProfile  Profile           `json:"defaultProfile"`
	Roles           map[Role]RoleSpec `json:"roles"`
	Ports           Ports             `json:"ports"`
	RemoteDir       string            `json:"remoteDir,omitempty"`
	Server          ProcessSpec       `json:"server"`
	Client          ProcessSpec       `json:"client"`
	Warmup          WarmupSpec        `json:"warmup"`
	Provision       ProvisionSpec     `json:"provision"`
	SessionTool     SessionToolSpec   `json:"sessionTool"`
	Retry           RetrySpec         `json:"retry"`
	TeardownTimeout Duration          `json:"teardownTimeout"`
}

func DefaultFile() File {
	return File{
		Ports: Ports{Replication: 9000, RPC: 1337},
		Server: ProcessSpec{
			Binary:      "qserver",
			ProcessName: "qserver",
			Precommand:  "export GOPATH=$HOME/go; export PATH=$PATH:$GOPATH/bin",
		},
		Client: ProcessSpec{
			Binary:      "windowed",
			ProcessName: "windowed",
			Precommand:  "export GOPATH=$HOME/go; export PATH=$PATH:$GOPATH/bin",
			Timeout:     Duration{30 * time.Minute},
		},
		Warmup: WarmupSpec{
			Mode:          WarmupFixed,
			Duration:      Duration{5 * time.Second},
			ProbeTimeout:  Duration{time.Minute},
			ProbeInterval: Duration{500 * time.Millisecond},
		},
		Provision: ProvisionSpec{
			PackageManager:   "yum",
			Packages:         []string{"golang"},
			RemoteScriptPath: "/tmp/setup.sh",
			BinDir:           "go/bin",
		},
		SessionTool: SessionToolSpec{
			Path:    "/usr/bin/tmux",
			Package: "tmux",
		},
		Retry: RetrySpec{
			Attempts: 3,
			Backoff:  Duration{time.Second},
		},
		TeardownTimeout: Duration{2 * time.Minute},
	}
}

// CampaignConfig is the validated, read-only view of a File. It is built
// once and shared by every component.
type CampaignConfig struct {
	file         File
	roles        map[Role][]Host
	hostProfiles map[string]Profile
	override     *Profile
}

type Option func(*CampaignConfig)

// WithProfileOverride makes p the profile of every host, ignoring the
// per-role and default profiles.
func WithProfileOverride(p Profile) Option {
	return func(c *CampaignConfig) { c.override = &p }
}

func Load(path string, opts ...Option) (*CampaignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign config: %w", err)
	}
	f := DefaultFile()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	return New(f, opts...)
}

func New(f File, opts ...Option) (*CampaignConfig, error) {
	c := &CampaignConfig{
		file:         f,
		roles:        make(map[Role][]Host),
		hostProfiles: make(map[string]Profile),
	}
	for _, opt := range opts {
		opt(c)
	}
	roles := make([]Role, 0, len(f.Roles))
	for r := range f.Roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	byName := make(map[string]Host)
	for _, role := range roles {
		spec := f.Roles[role]
		if len(spec.Hosts) == 0 {
			return nil, confErrorf("roles."+string(role), "no hosts")
		}
		hosts := make([]Host, len(spec.Hosts))
		for i, h := range spec.Hosts {
			if h.ExternalAddr == "" {
				return nil, confErrorf(fmt.Sprintf("roles.%s.hosts[%d]", role, i), "missing externalAddr")
			}
			if h.Name == "" {
				h.Name = h.ExternalAddr
			}
			if prev, ok := byName[h.Name]; ok && prev != h {
				return nil, confErrorf(fmt.Sprintf("roles.%s.hosts[%d]", role, i),
					"host %q defined twice with different addresses", h.Name)
			}
			byName[h.Name] = h
			if spec.Profile != nil {
				if p, ok := c.hostProfiles[h.Name]; ok && p != *spec.Profile {
					return nil, confErrorf(fmt.Sprintf("roles.%s.profile", role),
						"host %q has conflicting profiles", h.Name)
				}
				c.hostProfiles[h.Name] = *spec.Profile
			}
			hosts[i] = h
		}
		c.roles[role] = hosts
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// maxProcessNameLen is the length of the kernel comm field that pkill -x and
// pgrep -x match against.
const maxProcessNameLen = 15

func (c *CampaignConfig) validate() error {
	for _, r := range []Role{RoleServer, RoleClient} {
		if _, ok := c.roles[r]; !ok {
			return confErrorf("roles", "missing role %q", string(r))
		}
	}
	seenAddr := make(map[string]bool)
	for i, h := range c.roles[RoleServer] {
		field := fmt.Sprintf("roles.server.hosts[%d]", i)
		if h.PrivateAddr == "" {
			return confErrorf(field, "missing privateAddr")
		}
		if seenAddr[h.PrivateAddr] {
			return confErrorf(field, "duplicate privateAddr %s", h.PrivateAddr)
		}
		seenAddr[h.PrivateAddr] = true
	}
	p := c.file.Ports
	if p.Replication <= 0 || p.RPC <= 0 {
		return confErrorf("ports", "ports must be positive, got replication=%d rpc=%d", p.Replication, p.RPC)
	}
	if p.Replication == p.RPC {
		return confErrorf("ports", "replication and rpc ports are both %d", p.RPC)
	}
	for _, h := range c.AllHosts() {
		if err := c.Profile(h).validate(); err != nil {
			return confErrorf("profile for "+h.Name, "%v", err)
		}
	}
	if c.file.Server.Binary == "" || c.file.Server.ProcessName == "" {
		return confErrorf("server", "binary and processName are required")
	}
	if c.file.Client.Binary == "" || c.file.Client.ProcessName == "" {
		return confErrorf("client", "binary and processName are required")
	}
	for _, p := range []struct {
		field string
		spec  ProcessSpec
	}{{"server", c.file.Server}, {"client", c.file.Client}} {
		if len(p.spec.ProcessName) > maxProcessNameLen {
			return confErrorf(p.field+".processName", "%q is longer than %d bytes and would never match pkill/pgrep -x",
				p.spec.ProcessName, maxProcessNameLen)
		}
	}
	switch c.file.Warmup.Mode {
	case WarmupFixed, WarmupProbe:
	default:
		return confErrorf("warmup.mode", "must be %q or %q, got %q", WarmupFixed, WarmupProbe, c.file.Warmup.Mode)
	}
	if c.file.SessionTool.Path == "" {
		return confErrorf("sessionTool.path", "required")
	}
	if c.file.Provision.PackageManager == "" {
		return confErrorf("provision.packageManager", "required")
	}
	if c.file.Retry.Attempts < 1 {
		return confErrorf("retry.attempts", "must be at least 1")
	}
	return nil
}

func (c *CampaignConfig) Server() ProcessSpec          { return c.file.Server }
func (c *CampaignConfig) Client() ProcessSpec          { return c.file.Client }
func (c *CampaignConfig) Warmup() WarmupSpec           { return c.file.Warmup }
func (c *CampaignConfig) Ports() Ports                 { return c.file.Ports }
func (c *CampaignConfig) RemoteDir() string            { return c.file.RemoteDir }
func (c *CampaignConfig) SessionTool() SessionToolSpec { return c.file.SessionTool }
func (c *CampaignConfig) Retry() RetrySpec             { return c.file.Retry }
func (c *CampaignConfig) TeardownTimeout() time.Duration {
	return c.file.TeardownTimeout.D
}

func (c *CampaignConfig) Provision() ProvisionSpec {
	p := c.file.Provision
	p.Packages = append([]string(nil), p.Packages...)
	p.Binaries = append([]string(nil), p.Binaries...)
	return p
}

// UpdateCommand refreshes the host's package index and installed packages.
func (p ProvisionSpec) UpdateCommand() string {
	switch p.PackageManager {
	case "apt", "apt-get":
		return "DEBIAN_FRONTEND=noninteractive apt-get update -y && DEBIAN_FRONTEND=noninteractive apt-get upgrade -y"
	default:
		return p.PackageManager + " update -y"
	}
}

// InstallCommand installs pkgs with the configured package manager.
func (p ProvisionSpec) InstallCommand(pkgs ...string) string {
	list := shellquote.Join(pkgs...)
	switch p.PackageManager {
	case "apt", "apt-get":
		return "DEBIAN_FRONTEND=noninteractive apt-get install -y " + list
	default:
		return p.PackageManager + " install -y " + list
	}
}

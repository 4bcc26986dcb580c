package inventory

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Host is one machine in the inventory. ExternalAddr is what ssh connects
// to; PrivateAddr is the address cluster members use to reach each other.
type Host struct {
	Name         string `json:"name,omitempty"`
	ExternalAddr string `json:"externalAddr"`
	PrivateAddr  string `json:"privateAddr,omitempty"`
}

func (h Host) String() string { return h.Name }

// Profile holds the ssh connection parameters for a host.
type Profile struct {
	User         string `json:"user,omitempty"`
	KeyFile      string `json:"keyFile,omitempty"`
	UseSSHConfig bool   `json:"useSSHConfig,omitempty"`
}

func (p Profile) validate() error {
	switch {
	case p.UseSSHConfig && p.KeyFile != "":
		return fmt.Errorf("both useSSHConfig and keyFile %q are set", p.KeyFile)
	case !p.UseSSHConfig && p.KeyFile == "":
		return fmt.Errorf("no credential source: set keyFile or useSSHConfig")
	}
	return nil
}

type UnknownRoleError struct {
	Role Role
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q", string(e.Role))
}

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bad config: %s: %s", e.Field, e.Reason)
}

func confErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Resolve returns the hosts that have role r, in inventory order.
// The returned slice is a copy.
func (c *CampaignConfig) Resolve(r Role) ([]Host, error) {
	hosts, ok := c.roles[r]
	if !ok {
		return nil, &UnknownRoleError{Role: r}
	}
	return append([]Host(nil), hosts...), nil
}

// Roles lists the configured roles in sorted order.
func (c *CampaignConfig) Roles() []Role {
	roles := make([]Role, 0, len(c.roles))
	for r := range c.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// AllHosts returns every distinct host across all roles, sorted by name.
func (c *CampaignConfig) AllHosts() []Host {
	seen := make(map[string]bool)
	var all []Host
	for _, r := range c.Roles() {
		for _, h := range c.roles[r] {
			if !seen[h.Name] {
				seen[h.Name] = true
				all = append(all, h)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Profile returns the connection profile to use for h.
func (c *CampaignConfig) Profile(h Host) Profile {
	if c.override != nil {
		return *c.override
	}
	if p, ok := c.hostProfiles[h.Name]; ok {
		return p
	}
	return c.file.DefaultProfile
}

// EndpointSet is the list of server replicas as seen by the cluster. Index i
// of Replication and RPC refers to the same replica.
type EndpointSet struct {
	Replication []string
	RPC         []string
}

// ReplicationArg is the value passed to the server's --servers flag.
func (s EndpointSet) ReplicationArg() string { return strings.Join(s.Replication, " ") }

// RPCArg is the value passed to the client's --servers flag.
func (s EndpointSet) RPCArg() string { return strings.Join(s.RPC, " ") }

// Endpoints derives both endpoint views from the server hosts.
func (c *CampaignConfig) Endpoints() EndpointSet {
	servers := c.roles[RoleServer]
	s := EndpointSet{
		Replication: make([]string, len(servers)),
		RPC:         make([]string, len(servers)),
	}
	for i, h := range servers {
		s.Replication[i] = net.JoinHostPort(h.PrivateAddr, strconv.Itoa(c.file.Ports.Replication))
		s.RPC[i] = net.JoinHostPort(h.PrivateAddr, strconv.Itoa(c.file.Ports.RPC))
	}
	return s
}

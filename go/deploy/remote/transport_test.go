package remote_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
)

func TestSSHArgs(t *testing.T) {
	f := inventory.DefaultFile()
	f.DefaultProfile = inventory.Profile{User: "ec2-user", KeyFile: "/keys/aws.pem"}
	f.Roles = map[inventory.Role]inventory.RoleSpec{
		inventory.RoleServer: {Hosts: []inventory.Host{{Name: "s0", ExternalAddr: "s0.example", PrivateAddr: "10.0.0.1"}}},
		inventory.RoleClient: {
			Hosts:   []inventory.Host{{Name: "c0", ExternalAddr: "c0.example"}},
			Profile: &inventory.Profile{UseSSHConfig: true},
		},
	}
	c, err := inventory.New(f)
	if err != nil {
		t.Fatal(err)
	}
	servers, _ := c.Resolve(inventory.RoleServer)
	clients, _ := c.Resolve(inventory.RoleClient)

	want := []string{"-o", "BatchMode=yes", "-F", "/dev/null", "-o", "StrictHostKeyChecking=accept-new",
		"-i", "/keys/aws.pem", "-l", "ec2-user"}
	if diff := cmp.Diff(want, remote.SSHArgs(c, servers[0])); diff != "" {
		t.Errorf("server args diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-o", "BatchMode=yes"}, remote.SSHArgs(c, clients[0])); diff != "" {
		t.Errorf("client args diff (-want +got):\n%s", diff)
	}
}

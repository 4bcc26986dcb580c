package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/deploy/writetar"
	"github.com/mgentili/phat-bench/go/multierrgroup"
)

// Provision prepares every host for a campaign: packages and the session
// tool, then local binaries, then the setup script. Hosts proceed
// independently; a failure on one does not stop the others.
func (s *Sequencer) Provision(ctx context.Context) error {
	p := s.c.Provision()
	var script []byte
	if p.SetupScript != "" {
		var err error
		script, err = os.ReadFile(p.SetupScript)
		if err != nil {
			return fmt.Errorf("failed to read setup script: %w", err)
		}
	}

	var bundle []byte
	if len(p.Binaries) > 0 {
		inputs := make([]writetar.Input, len(p.Binaries))
		for i, b := range p.Binaries {
			inputs[i] = writetar.Input{Dest: filepath.Base(b), InputPath: b}
		}
		var err error
		if bundle, err = writetar.Bundle(inputs); err != nil {
			return fmt.Errorf("failed to bundle binaries: %w", err)
		}
	}

	pkgs := append(p.Packages, s.c.SessionTool().Package)
	install := p.UpdateCommand() + " && " + p.InstallCommand(pkgs...)

	var eg multierrgroup.Group
	for _, h := range s.c.AllHosts() {
		h := h
		eg.Go(func() error {
			log := remote.HostLog("setup", h)
			one := []inventory.Host{h}
			log.Info("installing packages")
			if err := s.d.Execute(ctx, one, install, remote.Options{Elevate: true}).Err(); err != nil {
				return fmt.Errorf("%s: failed to install packages: %w", h.Name, err)
			}
			if bundle != nil {
				log.Infof("installing %d binaries into %s", len(p.Binaries), p.BinDir)
				if err := s.installBundle(ctx, h, bundle, p.BinDir); err != nil {
					return fmt.Errorf("%s: %w", h.Name, err)
				}
			}
			if script == nil {
				return nil
			}
			log.Infof("running %s", p.RemoteScriptPath)
			if err := s.d.Put(ctx, one, p.RemoteScriptPath, script, 0o755).Err(); err != nil {
				return fmt.Errorf("%s: failed to copy setup script: %w", h.Name, err)
			}
			if err := s.d.Execute(ctx, one, shellquote.Join(p.RemoteScriptPath), remote.Options{}).Err(); err != nil {
				return fmt.Errorf("%s: setup script failed: %w", h.Name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

const remoteBundlePath = "/tmp/phat-bundle.tar"

func (s *Sequencer) installBundle(ctx context.Context, h inventory.Host, bundle []byte, binDir string) error {
	one := []inventory.Host{h}
	if err := s.d.Put(ctx, one, remoteBundlePath, bundle, 0o644).Err(); err != nil {
		return fmt.Errorf("failed to copy binaries: %w", err)
	}
	dir, tarball := shellquote.Join(binDir), shellquote.Join(remoteBundlePath)
	extract := fmt.Sprintf("mkdir -p %s && tar -xf %s -C %s && rm -f %s", dir, tarball, dir, tarball)
	if err := s.d.Execute(ctx, one, extract, remote.Options{}).Err(); err != nil {
		return fmt.Errorf("failed to unpack binaries: %w", err)
	}
	return nil
}

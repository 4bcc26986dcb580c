package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/mgentili/phat-bench/go/deploy/remote"
	"github.com/mgentili/phat-bench/go/multierrgroup"
	"github.com/mgentili/phat-bench/go/sshmux"
	"github.com/sirupsen/logrus"
)

const maxMasterTries = 5

var mkSSHMuxCmd = &cmd{
	name:     "mk-ssh-mux",
	synopsis: "create ssh master connections to every host and print the mux dir, pass it with -mux",
	exec: func(ctx context.Context, e *env, fs *flag.FlagSet) error {
		tmpdir, err := os.MkdirTemp("", "phat.sshmux.*")
		if err != nil {
			return fmt.Errorf("failed to create mux dir: %w", err)
		}

		mux := sshmux.NewMux(tmpdir)
		var eg multierrgroup.Group
		for _, h := range e.c.AllHosts() {
			h := h
			eg.Go(func() error {
				var err error
				for try := 0; try < maxMasterTries; try++ {
					err = mux.CreateMaster(ctx, h.ExternalAddr, remote.SSHArgs(e.c, h))
					if err == nil {
						return nil
					}
					remote.HostLog("mk-ssh-mux", h).Debugf("try %d: %v", try+1, err)
					if err := remote.Sleep(ctx, e.c.Retry().Backoff.D); err != nil {
						return err
					}
				}
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			logrus.WithField("action", "mk-ssh-mux").Warnf("some hosts will not use the mux: %v", err)
		}

		if err := mux.Save(); err != nil {
			return err
		}
		fmt.Println(tmpdir)
		return nil
	},
}

type delSSHMuxCmd struct{}

func (*delSSHMuxCmd) Name() string     { return "del-ssh-mux" }
func (*delSSHMuxCmd) Synopsis() string { return "close the master connections of the -mux dir and delete it" }
func (*delSSHMuxCmd) Usage() string    { return "" }

func (*delSSHMuxCmd) SetFlags(fs *flag.FlagSet) {}

func (*delSSHMuxCmd) Execute(ctx context.Context, fs *flag.FlagSet,
	args ...interface{}) subcommands.ExitStatus {
	if *muxDir == "" {
		// no mux
		return subcommands.ExitSuccess
	}
	log := logrus.WithField("action", "del-ssh-mux")

	mux, err := sshmux.Load(*muxDir)
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	if err := mux.ReleaseAll(ctx); err != nil {
		log.Warnf("failed to release all master conns: %v", err)
	}
	if err := os.RemoveAll(*muxDir); err != nil {
		log.Errorf("failed to delete mux state: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

var _ subcommands.Command = new(delSSHMuxCmd)

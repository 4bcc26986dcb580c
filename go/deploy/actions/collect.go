package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/kballard/go-shellquote"
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/mgentili/phat-bench/go/deploy/remote"
)

// ArtifactRetrievalError means the client's output file could not be found
// or copied after a run.
type ArtifactRetrievalError struct {
	Host string
	Path string
	Err  error
}

func (e *ArtifactRetrievalError) Error() string {
	return fmt.Sprintf("failed to retrieve %s from %s: %v", e.Path, e.Host, e.Err)
}

func (e *ArtifactRetrievalError) Unwrap() error { return e.Err }

var errArtifactMissing = errors.New("file does not exist")

// Collect copies the artifact outputName from the client host into localDir
// and returns the local path. The local file is replaced atomically, so a
// failed copy never leaves a truncated artifact behind.
func (s *Sequencer) Collect(ctx context.Context, outputName, localDir string) (string, error) {
	client, err := s.clientHost()
	if err != nil {
		return "", err
	}
	remoteFile := s.RemotePath(outputName)

	res := s.d.Execute(ctx, []inventory.Host{client}, "test -f "+shellquote.Join(remoteFile), remote.Options{})[client.Name]
	var cmdErr *remote.RemoteCommandError
	if errors.As(res.Err, &cmdErr) {
		return "", &ArtifactRetrievalError{Host: client.Name, Path: remoteFile, Err: errArtifactMissing}
	} else if res.Err != nil {
		return "", &ArtifactRetrievalError{Host: client.Name, Path: remoteFile, Err: res.Err}
	}

	if localDir == "" {
		localDir = "."
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to make output directory: %w", err)
	}
	dst := filepath.Join(localDir, filepath.Base(outputName))
	f, err := renameio.TempFile(localDir, dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer f.Cleanup()
	if err := f.Chmod(0o644); err != nil {
		return "", fmt.Errorf("failed to chmod %s: %w", dst, err)
	}
	if err := s.d.Fetch(ctx, client, remoteFile, f); err != nil {
		return "", &ArtifactRetrievalError{Host: client.Name, Path: remoteFile, Err: err}
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", dst, err)
	}
	return dst, nil
}

// Package writetar builds small in-memory tarballs of local files for
// shipping to remote hosts.
package writetar

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
)

type Input struct {
	Dest      string
	InputPath string
}

// Bundle returns an uncompressed tar of inputs. File modes are kept so that
// executables stay executable.
func Bundle(inputs []Input) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, input := range inputs {
		if err := add(tw, input); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	return buf.Bytes(), nil
}

func add(tw *tar.Writer, input Input) error {
	f, err := os.Open(input.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file %s: %w", input.InputPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat input file %s: %w", input.InputPath, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", input.InputPath)
	}

	err = tw.WriteHeader(&tar.Header{
		Name: input.Dest,
		Mode: int64(fi.Mode().Perm()),
		Size: fi.Size(),
	})
	if err != nil {
		return fmt.Errorf("failed to write header for %s: %w", input.Dest, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("error while adding %s: %w", input.Dest, err)
	}
	return nil
}

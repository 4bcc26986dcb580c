package writetar

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBundle(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string, mode os.FileMode) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(data), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, mode); err != nil {
			t.Fatal(err)
		}
		return p
	}

	data, err := Bundle([]Input{
		{Dest: "qserver", InputPath: write("a", "server binary", 0o755)},
		{Dest: "notes.txt", InputPath: write("b", "hello", 0o644)},
	})
	if err != nil {
		t.Fatal(err)
	}

	type entry struct {
		Name string
		Mode int64
		Data string
	}
	var got []entry
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, entry{hdr.Name, hdr.Mode, string(b)})
	}
	want := []entry{
		{"qserver", 0o755, "server binary"},
		{"notes.txt", 0o644, "hello"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}

func TestBundleMissingFile(t *testing.T) {
	if _, err := Bundle([]Input{{Dest: "x", InputPath: filepath.Join(t.TempDir(), "missing")}}); err == nil {
		t.Error("want error for missing input")
	}
	if _, err := Bundle([]Input{{Dest: "x", InputPath: t.TempDir()}}); err == nil {
		t.Error("want error for directory input")
	}
}

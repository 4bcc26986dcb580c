package flagtypes

import (
	"flag"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStringList(t *testing.T) {
	l := StringList{Sep: ","}
	if err := l.Set("vr, no vr,,"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"vr", "no vr"}, l.Vals); diff != "" {
		t.Errorf("vals (-want +got):\n%s", diff)
	}
	if got := l.String(); got != "vr,no vr" {
		t.Errorf("String() = %q", got)
	}
}

func TestDuration(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var d Duration
	fs.Var(&d, "warmup", "")
	if d.OK {
		t.Fatal("OK before Set")
	}
	if err := fs.Parse([]string{"-warmup", "1m30s"}); err != nil {
		t.Fatal(err)
	}
	if !d.OK || d.D != 90*time.Second {
		t.Errorf("got %+v, want 1m30s", d)
	}
	if err := d.Set("soon"); err == nil || d.OK {
		t.Errorf("bad duration accepted: %+v", d)
	}
}

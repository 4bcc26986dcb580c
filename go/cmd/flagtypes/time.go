package flagtypes

import (
	"flag"
	"time"
)

// Duration is a flag that is unset until Set succeeds.
type Duration struct {
	D  time.Duration
	OK bool
}

func (f *Duration) String() string { return f.D.String() }
func (f *Duration) Set(s string) error {
	var err error
	f.D, err = time.ParseDuration(s)
	f.OK = err == nil
	return err
}

var _ flag.Value = new(Duration)

package flagtypes

import (
	"flag"
	"strings"
)

// StringList is a Sep-separated list. Elements are trimmed and empty ones
// dropped, so "a, b," is [a b].
type StringList struct {
	Sep  string
	Vals []string
}

func (f *StringList) String() string { return strings.Join(f.Vals, f.Sep) }
func (f *StringList) Set(s string) error {
	f.Vals = f.Vals[:0]
	for _, v := range strings.Split(s, f.Sep) {
		if v = strings.TrimSpace(v); v != "" {
			f.Vals = append(f.Vals, v)
		}
	}
	return nil
}

var _ flag.Value = new(StringList)

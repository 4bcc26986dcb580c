// Package configgen expands Starlark sweep files into campaign workloads.
package configgen

import (
	"fmt"

	"github.com/mgentili/phat-bench/go/deploy/actions"
	"github.com/sirupsen/logrus"
	"go.starlark.net/starlark"
)

func artifactName(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		vr   bool
		n, w int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "vr", &vr, "num_messages", &n, "window_size", &w); err != nil {
		return nil, err
	}
	return starlark.String(actions.ArtifactName(vr, n, w)), nil
}

// GenSweep executes the Starlark file at filename and returns the workloads
// in its global runs list. Each entry is a dict with keys vr, num_messages,
// window_size and optionally output.
func GenSweep(filename string) ([]actions.Workload, error) {
	return genSweep(filename, nil)
}

func genSweep(filename string, src interface{}) ([]actions.Workload, error) {
	predeclared := starlark.StringDict{
		"artifact_name": starlark.NewBuiltin("artifact_name", artifactName),
	}

	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { logrus.WithField("action", "gen-sweep").Info(msg) },
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("failed to generate sweep: %v", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("failed to generate sweep: %v", err)
	}

	runsRaw := globals["runs"]
	if runsRaw == nil {
		return nil, nil
	}
	runsList, ok := runsRaw.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("runs var needs to be of type list, got %s", runsRaw.Type())
	}

	runs := make([]actions.Workload, 0, runsList.Len())
	for i := 0; i < runsList.Len(); i++ {
		d, ok := runsList.Index(i).(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("runs[%d] must be a dict, got %s", i, runsList.Index(i).Type())
		}
		w, err := toWorkload(d)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		runs = append(runs, w)
	}
	if err := actions.CheckSweep(runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func toWorkload(d *starlark.Dict) (actions.Workload, error) {
	var w actions.Workload
	for _, kv := range d.Items() {
		key, ok := starlark.AsString(kv[0])
		if !ok {
			return w, fmt.Errorf("keys must be strings, got %s", kv[0])
		}
		var err error
		switch key {
		case "vr":
			w.ReplicationMode, err = asBool(kv[1])
		case "num_messages":
			w.NumMessages, err = starlark.AsInt32(kv[1])
		case "window_size":
			w.WindowSize, err = starlark.AsInt32(kv[1])
		case "output":
			var ok bool
			if w.OutputName, ok = starlark.AsString(kv[1]); !ok {
				err = fmt.Errorf("got %s, want string", kv[1].Type())
			}
		default:
			err = fmt.Errorf("unknown key")
		}
		if err != nil {
			return w, fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, found, _ := d.Get(starlark.String("window_size")); !found {
		return w, fmt.Errorf("window_size is required")
	}
	if _, found, _ := d.Get(starlark.String("num_messages")); !found {
		return w, fmt.Errorf("num_messages is required")
	}
	return w, nil
}

// asBool accepts True/False and the strings "true"/"false".
func asBool(v starlark.Value) (bool, error) {
	switch v := v.(type) {
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("got %s, want bool", v)
}

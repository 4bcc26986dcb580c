package actions

import (
	"fmt"
	"strings"
)

// Workload is one client run against the cluster.
type Workload struct {
	NumMessages     int    `json:"num_messages"`
	WindowSize      int    `json:"window_size"`
	ReplicationMode bool   `json:"vr"`
	OutputName      string `json:"output,omitempty"`
}

// ArtifactName is the name of the latency file for a run with these
// parameters. Distinct parameters always give distinct names.
func ArtifactName(replicationMode bool, numMessages, windowSize int) string {
	return fmt.Sprintf("%dmessages_%dwindow_%tvr.csv", numMessages, windowSize, replicationMode)
}

// Output returns the explicit output name, or the derived one.
func (w Workload) Output() string {
	if w.OutputName != "" {
		return w.OutputName
	}
	return ArtifactName(w.ReplicationMode, w.NumMessages, w.WindowSize)
}

func (w Workload) Validate() error {
	if w.NumMessages < 0 {
		return fmt.Errorf("num_messages must not be negative, got %d", w.NumMessages)
	}
	if w.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", w.WindowSize)
	}
	out := w.Output()
	if strings.ContainsRune(out, '/') || out == "." || out == ".." {
		return fmt.Errorf("output %q must be a plain file name", out)
	}
	return nil
}

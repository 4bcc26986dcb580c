package remote

import "fmt"

// ConnectivityError means the command never got a usable session on the
// host: ssh could not start, the host was unreachable, or auth failed.
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RemoteCommandError means the command ran on the host and exited non-zero.
type RemoteCommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Output     []byte
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("%s: %q exited with status %d; output:\n%s",
		e.Host, e.Command, e.ExitStatus, e.Output)
}

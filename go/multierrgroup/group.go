package multierrgroup

import (
	"strings"
	"sync"
)

type multiErr struct {
	e []error
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e multiErr) Unwrap() []error {
	return e.e
}

func (e multiErr) Error() string {
	if len(e.e) == 1 {
		return e.e[0].Error()
	}
	ss := make([]string, len(e.e))
	for i, err := range e.e {
		ss[i] = err.Error()
	}

	return "multiple errors:\n\t" + strings.Join(ss, "\n\t")
}

// Join combines the non-nil errors in errs. It returns nil if there are none.
func Join(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return multiErr{nonNil}
}

// Group runs functions concurrently and waits for all of them. Unlike
// errgroup, a failure does not cancel or hide the others: every error is
// reported by Wait.
type Group struct {
	wg sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

func (g *Group) Wait() error {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return Join(g.errs...)
}

// Package periodic logs progress of long blocking steps.
package periodic

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Printer logs msg with the elapsed time every interval until stopped.
type Printer struct {
	t    *time.Ticker
	done chan<- struct{}
}

func NewPrinter(log *logrus.Entry, msg string, interval time.Duration) *Printer {
	p := new(Printer)
	p.t = time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		start := time.Now()
		for {
			select {
			case <-p.t.C:
				log.Infof("%s, %s elapsed", msg, time.Since(start).Round(time.Second))
			case <-done:
				return
			}
		}
	}()
	p.done = done
	return p
}

// Stop is safe on a nil Printer.
func (p *Printer) Stop() {
	if p == nil {
		return
	}
	p.t.Stop()
	close(p.done)
}

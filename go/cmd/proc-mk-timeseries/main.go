package main

import (
	"bufio"
	"flag"
	"os"

	"github.com/mgentili/phat-bench/go/cmd/flagtypes"
	"github.com/mgentili/phat-bench/go/plots"
	"github.com/mgentili/phat-bench/go/proc"
	"github.com/sirupsen/logrus"
)

func main() {
	out := flag.String("out", "", "also render the scatter to this file (.png, .svg, .pdf)")
	title := flag.String("title", "Latency over time", "figure title")
	flag.Parse()

	log := logrus.WithField("action", "proc-mk-timeseries")

	if flag.NArg() < 2 {
		log.Fatalf("usage: %s [-out fig.png] label1,label2,... artifact.csv...", os.Args[0])
	}
	var labels flagtypes.StringList
	labels.Sep = ","
	labels.Set(flag.Arg(0))

	series, err := proc.LabelSeries(labels.Vals, flag.Args()[1:])
	if err != nil {
		log.Fatalf("failed to load artifacts: %v", err)
	}
	view := proc.ScatterView(series)

	bw := bufio.NewWriter(os.Stdout)
	if err := proc.WriteScatterCSV(bw, view); err != nil {
		log.Fatalf("failed to write points: %v", err)
	}
	if err := bw.Flush(); err != nil {
		log.Fatalf("failed to write points: %v", err)
	}
	for _, c := range view.Curves {
		if c.HasEnd {
			log.Infof("%s: run ended at %g", c.Label, c.End)
		}
	}

	if *out != "" {
		if err := plots.RenderScatter(view, *title, *out); err != nil {
			log.Fatal(err)
		}
	}
}

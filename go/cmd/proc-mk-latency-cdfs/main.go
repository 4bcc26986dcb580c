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
	out := flag.String("out", "", "also render the CDFs to this file (.png, .svg, .pdf)")
	title := flag.String("title", "Latency CDF", "figure title")
	flag.Parse()

	log := logrus.WithField("action", "proc-mk-latency-cdfs")

	if flag.NArg() < 2 {
		log.Fatalf("usage: %s [-out fig.png] label1,label2,... artifact.csv...", os.Args[0])
	}
	labels := flagtypes.StringList{Sep: ","}
	labels.Set(flag.Arg(0))

	series, err := proc.LabelSeries(labels.Vals, flag.Args()[1:])
	if err != nil {
		log.Fatalf("failed to load artifacts: %v", err)
	}
	view := proc.CDFView(series)

	bw := bufio.NewWriter(os.Stdout)
	if err := proc.WriteCDFCSV(bw, view); err != nil {
		log.Fatalf("failed to write CDFs: %v", err)
	}
	if err := bw.Flush(); err != nil {
		log.Fatalf("failed to write CDFs: %v", err)
	}

	if *out != "" {
		if err := plots.RenderCDF(view, *title, *out); err != nil {
			log.Fatal(err)
		}
	}
}

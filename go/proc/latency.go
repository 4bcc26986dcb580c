package proc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// Record is one request from a client artifact. Start is the offset from the
// first request and Latency its duration, both in the artifact's unit
// (microseconds for the windowed client).
type Record struct {
	Tag     float64
	Start   float64
	Latency float64
}

// ReadArtifact parses "tag, start, latency" lines. Lines with only two
// fields are read as "start, latency".
func ReadArtifact(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var recs []Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		var vals [3]float64
		off := 3 - len(fields)
		if off < 0 || off > 1 {
			return nil, fmt.Errorf("line %d: got %d fields, want 2 or 3", line, len(fields))
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vals[off+i] = v
		}
		recs = append(recs, Record{Tag: vals[0], Start: vals[1], Latency: vals[2]})
	}
}

func LoadArtifact(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := ReadArtifact(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Series is the records of one label, in file order.
type Series struct {
	Label   string
	Records []Record
}

func (s Series) Latencies() []float64 {
	l := make([]float64, len(s.Records))
	for i, r := range s.Records {
		l[i] = r.Latency
	}
	return l
}

func (s Series) Starts() []float64 {
	st := make([]float64, len(s.Records))
	for i, r := range s.Records {
		st[i] = r.Start
	}
	return st
}

// GroupFiles assigns files to labels. With as many labels as files each file
// is its own series. With more files, they are split into equal consecutive
// groups, one per label. With no labels, each file is labeled by its name.
func GroupFiles(labels, files []string) ([][]string, []string, error) {
	if len(files) == 0 {
		return nil, nil, errors.New("no artifact files given")
	}
	if len(labels) == 0 {
		labels = make([]string, len(files))
		for i, f := range files {
			labels[i] = filepath.Base(f)
		}
	}
	if len(labels) > len(files) || len(files)%len(labels) != 0 {
		return nil, nil, fmt.Errorf("cannot split %d files among %d labels", len(files), len(labels))
	}
	per := len(files) / len(labels)
	groups := make([][]string, len(labels))
	for i := range labels {
		groups[i] = files[i*per : (i+1)*per]
	}
	return groups, labels, nil
}

// LabelSeries loads files and binds them to labels as described by
// GroupFiles. A label's files are concatenated in the order given.
func LabelSeries(labels, files []string) ([]Series, error) {
	groups, labels, err := GroupFiles(labels, files)
	if err != nil {
		return nil, err
	}
	series := make([]Series, len(labels))
	for i, l := range labels {
		series[i].Label = l
		for _, path := range groups[i] {
			recs, err := LoadArtifact(path)
			if err != nil {
				return nil, err
			}
			series[i].Records = append(series[i].Records, recs...)
		}
	}
	return series, nil
}

type Point struct {
	X, Y float64
}

// ECDF returns (latency[i], i/n) for the sorted latencies. Empty input gives
// no points.
func ECDF(latencies []float64) []Point {
	if len(latencies) == 0 {
		return nil
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	pts := make([]Point, len(sorted))
	for i, v := range sorted {
		pts[i] = Point{X: v, Y: float64(i) / n}
	}
	return pts
}

type Bounds struct {
	XMin, XMax float64
	YMin, YMax float64
}

// Curve is one labeled series ready to plot.
type Curve struct {
	Label  string
	Points []Point

	// End, if HasEnd, is where the series' run ended on the x axis.
	End    float64
	HasEnd bool
}

// View is a set of curves drawn on shared axes.
type View struct {
	Curves []Curve
	Bounds Bounds
}

func maxOr0(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return floats.Max(s)
}

// CDFView overlays the ECDF of each series. The x axis spans
// [0, max latency] over all series and the y axis [0, 1].
func CDFView(series []Series) View {
	v := View{Bounds: Bounds{YMax: 1}}
	for _, s := range series {
		lat := s.Latencies()
		v.Bounds.XMax = floats.Max([]float64{v.Bounds.XMax, maxOr0(lat)})
		v.Curves = append(v.Curves, Curve{Label: s.Label, Points: ECDF(lat)})
	}
	return v
}

// ScatterView plots (start, latency) per series in file order, with an end
// marker at each series' final start offset. The axes span
// [0, max start] x [0, max latency] over all series.
func ScatterView(series []Series) View {
	var v View
	for _, s := range series {
		starts, lat := s.Starts(), s.Latencies()
		v.Bounds.XMax = floats.Max([]float64{v.Bounds.XMax, maxOr0(starts)})
		v.Bounds.YMax = floats.Max([]float64{v.Bounds.YMax, maxOr0(lat)})
		c := Curve{Label: s.Label}
		if len(s.Records) > 0 {
			c.Points = make([]Point, len(s.Records))
			for i, r := range s.Records {
				c.Points[i] = Point{X: r.Start, Y: r.Latency}
			}
			c.End = starts[len(starts)-1]
			c.HasEnd = true
		}
		v.Curves = append(v.Curves, c)
	}
	return v
}

func writeView(w io.Writer, header string, v View) error {
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, c := range v.Curves {
		for _, p := range c.Points {
			if _, err := fmt.Fprintf(w, "%s,%g,%g\n", c.Label, p.X, p.Y); err != nil {
				return err
			}
		}
	}
	return nil
}

func WriteCDFCSV(w io.Writer, v View) error {
	return writeView(w, "Label,Latency,Fraction", v)
}

func WriteScatterCSV(w io.Writer, v View) error {
	return writeView(w, "Label,Start,Latency", v)
}

// Package plots renders proc views to image files. The format follows the
// output extension (png, svg, pdf, ...).
package plots

import (
	"fmt"

	"github.com/mgentili/phat-bench/go/proc"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	width  = 12 * vg.Inch
	height = 6 * vg.Inch
)

func toXYs(pts []proc.Point) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}

func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

func clampAxes(p *plot.Plot, b proc.Bounds) {
	p.X.Min, p.X.Max = b.XMin, b.XMax
	p.Y.Min, p.Y.Max = b.YMin, b.YMax
	if p.X.Max <= p.X.Min {
		p.X.Max = p.X.Min + 1
	}
	if p.Y.Max <= p.Y.Min {
		p.Y.Max = p.Y.Min + 1
	}
}

// RenderCDF draws one step line per curve and saves it to outPath.
func RenderCDF(v proc.View, title, outPath string) error {
	p := newPlot(title, "Latency", "CDF")
	for i, c := range v.Curves {
		if len(c.Points) == 0 {
			continue
		}
		l, err := plotter.NewLine(toXYs(c.Points))
		if err != nil {
			return fmt.Errorf("bad points for %s: %w", c.Label, err)
		}
		l.StepStyle = plotter.PostStep
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(c.Label, l)
	}
	clampAxes(p, v.Bounds)
	if err := p.Save(width, height, outPath); err != nil {
		return fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	return nil
}

// RenderScatter draws the points of each curve and a dashed vertical line
// where each run ended.
func RenderScatter(v proc.View, title, outPath string) error {
	p := newPlot(title, "Time", "Latency")
	for i, c := range v.Curves {
		if len(c.Points) == 0 {
			continue
		}
		col := plotutil.Color(i)
		s, err := plotter.NewScatter(toXYs(c.Points))
		if err != nil {
			return fmt.Errorf("bad points for %s: %w", c.Label, err)
		}
		s.GlyphStyle.Color = col
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
		p.Legend.Add(c.Label, s)

		if c.HasEnd {
			end, err := plotter.NewLine(plotter.XYs{{X: c.End, Y: v.Bounds.YMin}, {X: c.End, Y: v.Bounds.YMax}})
			if err != nil {
				return fmt.Errorf("bad end marker for %s: %w", c.Label, err)
			}
			end.Color = col
			end.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(end)
		}
	}
	clampAxes(p, v.Bounds)
	if err := p.Save(width, height, outPath); err != nil {
		return fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	return nil
}

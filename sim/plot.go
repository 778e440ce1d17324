package sim

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// TrajectoryPlot creates an XY plot of the true and estimated paths.
// Both matrices carry one pose per row with X in column 0 and Y in
// column 1. It returns error if either matrix is nil or has fewer than
// 2 columns.
func TrajectoryPlot(truth, estimate *mat.Dense) (*plot.Plot, error) {
	if truth == nil || estimate == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	_, ct := truth.Dims()
	_, ce := estimate.Dims()
	if ct < 2 || ce < 2 {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "Trajectory"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthScatter, err := plotter.NewScatter(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(truthScatter)
	p.Legend.Add("truth", truthScatter)

	estScatter, err := plotter.NewScatter(makePoints(estimate))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	estScatter.Shape = draw.CrossGlyph{}
	estScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(estScatter)
	p.Legend.Add("estimate", estScatter)

	return p, nil
}

// ParticlePlot creates an XY scatter of a particle set coloured by
// weight: low weights ramp from green to yellow, high weights from
// yellow to red. Particles carry one state per column with X in row 0
// and Y in row 1; weights must match the number of columns.
func ParticlePlot(particles *mat.Dense, weights []float64) (*plot.Plot, error) {
	if particles == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}
	r, c := particles.Dims()
	if r < 2 || c != len(weights) {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "Particle set"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	pts := make(plotter.XYs, c)
	for i := 0; i < c; i++ {
		pts[i].X = particles.At(0, i)
		pts[i].Y = particles.At(1, i)
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}

	colors := WeightColors(weights)
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  colors[i],
			Radius: vg.Points(2),
			Shape:  draw.CircleGlyph{},
		}
	}

	p.Add(scatter)

	return p, nil
}

// WeightColors maps particle weights onto a green-yellow-red ramp.
// Weights in the lower half of the observed range fade green into
// yellow, the upper half fades yellow into red. Weights outside the
// range, such as NaN, come out blue.
func WeightColors(weights []float64) []color.RGBA {
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, w := range weights {
		if w > max {
			max = w
		}
		if w < min {
			min = w
		}
	}
	mid := (max + min) / 2

	colors := make([]color.RGBA, len(weights))
	if !(min < max) {
		// degenerate range: every finite weight sits at the midpoint
		for i, w := range weights {
			if math.IsNaN(w) {
				colors[i] = color.RGBA{B: 255, A: 255}
				continue
			}
			colors[i] = color.RGBA{R: 255, G: 255, A: 255}
		}
		return colors
	}
	for i, w := range weights {
		switch {
		case min <= w && w < mid:
			colors[i] = color.RGBA{
				R: ramp((w - min) / (mid - min)),
				G: 255,
				A: 255,
			}
		case mid <= w && w <= max:
			colors[i] = color.RGBA{
				R: 255,
				G: ramp(1 - (w-mid)/(max-mid)),
				A: 255,
			}
		default:
			colors[i] = color.RGBA{B: 255, A: 255}
		}
	}

	return colors
}

func ramp(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}

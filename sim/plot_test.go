package sim

import (
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestTrajectoryPlot(t *testing.T) {
	assert := assert.New(t)

	truth := mat.NewDense(10, 2, nil)
	estimate := mat.NewDense(10, 2, nil)

	p, err := TrajectoryPlot(truth, estimate)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = TrajectoryPlot(nil, estimate)
	assert.Nil(p)
	assert.Error(err)

	narrow := mat.NewDense(10, 1, nil)
	p, err = TrajectoryPlot(truth, narrow)
	assert.Nil(p)
	assert.Error(err)
}

func TestParticlePlot(t *testing.T) {
	assert := assert.New(t)

	particles := mat.NewDense(6, 5, nil)
	weights := []float64{0.1, 0.2, 0.3, 0.2, 0.2}

	p, err := ParticlePlot(particles, weights)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = ParticlePlot(nil, weights)
	assert.Nil(p)
	assert.Error(err)

	p, err = ParticlePlot(particles, weights[:3])
	assert.Nil(p)
	assert.Error(err)
}

func TestWeightColors(t *testing.T) {
	assert := assert.New(t)

	colors := WeightColors([]float64{0, 0.5, 1})

	// lowest weight is pure green, midpoint yellow, highest pure red
	assert.Equal(color.RGBA{G: 255, A: 255}, colors[0])
	assert.Equal(color.RGBA{R: 255, G: 255, A: 255}, colors[1])
	assert.Equal(color.RGBA{R: 255, A: 255}, colors[2])

	// the lower half ramps green to yellow, the upper yellow to red
	colors = WeightColors([]float64{0, 0.25, 0.75, 1})
	assert.Equal(uint8(255), colors[1].G)
	assert.True(colors[1].R > 0 && colors[1].R < 255)
	assert.Equal(uint8(255), colors[2].R)
	assert.True(colors[2].G > 0 && colors[2].G < 255)

	// out-of-range weights come out blue
	colors = WeightColors([]float64{0, 1, math.NaN()})
	assert.Equal(color.RGBA{B: 255, A: 255}, colors[2])

	// uniform weights fall back to yellow
	colors = WeightColors([]float64{0.5, 0.5})
	assert.Equal(color.RGBA{R: 255, G: 255, A: 255}, colors[0])
	assert.Equal(colors[0], colors[1])
}

package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

const tol = 1e-9

func TestExpLogRoundTrip(t *testing.T) {
	assert := assert.New(t)

	vecs := [][3]float64{
		{0, 0, 0},
		{0.1, 0, 0},
		{0, -0.2, 0.3},
		{1.0, -0.5, 0.25},
	}

	for _, w := range vecs {
		r := Exp(w)
		got := Log(r)
		for i := 0; i < 3; i++ {
			assert.InDelta(w[i], got[i], 1e-8)
		}
	}
}

func TestExpIsRotation(t *testing.T) {
	assert := assert.New(t)

	r := Exp([3]float64{0.3, -0.7, 0.2})

	// R'R = I
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(want, rtr.At(i, j), tol)
		}
	}

	// det(R) = 1
	assert.InDelta(1.0, mat.Det(r), tol)
}

func TestRPYRoundTrip(t *testing.T) {
	assert := assert.New(t)

	cases := [][3]float64{
		{0, 0, 0},
		{0.1, 0.2, 0.3},
		{-0.5, 0.4, -1.2},
		{math.Pi / 4, -math.Pi / 6, math.Pi / 3},
	}

	for _, c := range cases {
		r := FromRPY(c[0], c[1], c[2])
		roll, pitch, yaw := ToRPY(r)
		assert.InDelta(c[0], roll, 1e-9)
		assert.InDelta(c[1], pitch, 1e-9)
		assert.InDelta(c[2], yaw, 1e-9)
	}
}

func TestRenormalize(t *testing.T) {
	assert := assert.New(t)

	r := Exp([3]float64{0.2, 0.1, -0.3})
	// drift it off the manifold
	r.Set(0, 0, r.At(0, 0)+1e-4)
	r.Set(1, 1, r.At(1, 1)-1e-4)

	Renormalize(r)

	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(want, rtr.At(i, j), 1e-12)
		}
	}
}

func TestApply(t *testing.T) {
	assert := assert.New(t)

	// 90 degrees about z maps x onto y
	r := FromRPY(0, 0, math.Pi/2)
	p := Apply(r, [3]float64{1, 2, 3}, [3]float64{1, 0, 0})

	assert.InDelta(1.0, p[0], tol)
	assert.InDelta(3.0, p[1], tol)
	assert.InDelta(3.0, p[2], tol)
}

func TestSkewAntisymmetric(t *testing.T) {
	assert := assert.New(t)

	s := Skew([3]float64{1, 2, 3})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(s.At(i, j), -s.At(j, i), tol)
		}
	}
}

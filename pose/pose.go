package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Skew returns the skew-symmetric cross-product matrix of w.
func Skew(w [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0.0, -w[2], w[1],
		w[2], 0.0, -w[0],
		-w[1], w[0], 0.0,
	})
}

// Exp returns the rotation matrix for the rotation vector w using the
// Rodrigues formula. For very small |w| it falls back to the first-order
// approximation I + skew(w).
func Exp(w [3]float64) *mat.Dense {
	theta := math.Sqrt(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])

	r := eye3()
	k := Skew(w)

	if theta < 1e-9 {
		r.Add(r, k)
		return r
	}

	a := math.Sin(theta) / theta
	b := (1.0 - math.Cos(theta)) / (theta * theta)

	kk := &mat.Dense{}
	kk.Mul(k, k)

	tmp := &mat.Dense{}
	tmp.Scale(a, k)
	r.Add(r, tmp)
	tmp.Scale(b, kk)
	r.Add(r, tmp)

	return r
}

// Log returns the rotation vector of the rotation matrix r.
// It is the inverse of Exp for rotation angles below pi.
func Log(r mat.Matrix) [3]float64 {
	tr := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)

	c := (tr - 1.0) / 2.0
	if c > 1.0 {
		c = 1.0
	} else if c < -1.0 {
		c = -1.0
	}
	theta := math.Acos(c)

	if theta < 1e-9 {
		// first order: w is the off-diagonal skew part
		return [3]float64{
			(r.At(2, 1) - r.At(1, 2)) / 2.0,
			(r.At(0, 2) - r.At(2, 0)) / 2.0,
			(r.At(1, 0) - r.At(0, 1)) / 2.0,
		}
	}

	s := theta / (2.0 * math.Sin(theta))
	return [3]float64{
		s * (r.At(2, 1) - r.At(1, 2)),
		s * (r.At(0, 2) - r.At(2, 0)),
		s * (r.At(1, 0) - r.At(0, 1)),
	}
}

// FromRPY returns the rotation matrix Rz(yaw)*Ry(pitch)*Rx(roll).
func FromRPY(roll, pitch, yaw float64) *mat.Dense {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)

	return mat.NewDense(3, 3, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

// ToRPY returns the roll/pitch/yaw angles of the rotation matrix r.
func ToRPY(r mat.Matrix) (roll, pitch, yaw float64) {
	sp := -r.At(2, 0)
	if sp > 1.0 {
		sp = 1.0
	} else if sp < -1.0 {
		sp = -1.0
	}
	pitch = math.Asin(sp)

	roll = math.Atan2(r.At(2, 1), r.At(2, 2))
	yaw = math.Atan2(r.At(1, 0), r.At(0, 0))

	return roll, pitch, yaw
}

// Renormalize projects r back onto SO(3) by Gram-Schmidt on its columns.
// Repeated small-angle compositions drift off the manifold without it.
func Renormalize(r *mat.Dense) {
	var x, y, z [3]float64
	for i := 0; i < 3; i++ {
		x[i] = r.At(i, 0)
		y[i] = r.At(i, 1)
	}

	normalize(&x)

	// remove x component from y
	d := dot(x, y)
	for i := 0; i < 3; i++ {
		y[i] -= d * x[i]
	}
	normalize(&y)

	// z = x cross y
	z[0] = x[1]*y[2] - x[2]*y[1]
	z[1] = x[2]*y[0] - x[0]*y[2]
	z[2] = x[0]*y[1] - x[1]*y[0]

	for i := 0; i < 3; i++ {
		r.Set(i, 0, x[i])
		r.Set(i, 1, y[i])
		r.Set(i, 2, z[i])
	}
}

// Apply transforms the point p by the rotation r and translation t.
func Apply(r mat.Matrix, t, p [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = r.At(i, 0)*p[0] + r.At(i, 1)*p[1] + r.At(i, 2)*p[2] + t[i]
	}
	return out
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func normalize(v *[3]float64) {
	n := math.Sqrt(dot(*v, *v))
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

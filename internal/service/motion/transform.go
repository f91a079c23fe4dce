package motion

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// IdentityShift is the largest corner displacement, in pixels, under which
// an estimated homography is treated as the identity.
const IdentityShift = 0.5

// Transform is a row-major 3x3 projective mapping.
type Transform [9]float64

// Identity returns the identity mapping.
func Identity() Transform {
	return Transform{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Translation returns a pure translation by (dx, dy).
func Translation(dx, dy float64) Transform {
	return Transform{1, 0, dx, 0, 1, dy, 0, 0, 1}
}

// IsIdentity reports whether every element is within eps of the identity.
func (t Transform) IsIdentity(eps float64) bool {
	id := Identity()
	for i := range t {
		if math.Abs(t[i]-id[i]) > eps {
			return false
		}
	}
	return true
}

// NearIdentity reports whether t moves none of the corners of a size frame
// by more than maxShift pixels. Perspective terms are scaled by the frame
// extent this way, unlike a per-element comparison.
func (t Transform) NearIdentity(size image.Point, maxShift float64) bool {
	w, h := float64(size.X), float64(size.Y)
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := t.ApplyF(c[0], c[1])
		if math.IsNaN(x) || math.IsNaN(y) || math.Hypot(x-c[0], y-c[1]) > maxShift {
			return false
		}
	}
	return true
}

// Mul returns t x o, the mapping that applies o first and then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += t[row*3+k] * o[k*3+col]
			}
			r[row*3+col] = sum
		}
	}
	return r.normalized()
}

// ApplyF maps (x, y) through the projective transform.
func (t Transform) ApplyF(x, y float64) (float64, float64) {
	w := t[6]*x + t[7]*y + t[8]
	if w == 0 {
		return x, y
	}
	return (t[0]*x + t[1]*y + t[2]) / w, (t[3]*x + t[4]*y + t[5]) / w
}

// Apply maps an integer point, rounding to the nearest pixel.
func (t Transform) Apply(p image.Point) image.Point {
	x, y := t.ApplyF(float64(p.X), float64(p.Y))
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

// Mat returns the transform as a 3x3 CV_64F matrix. The caller closes it.
func (t Transform) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for i, v := range t {
		m.SetDoubleAt(i/3, i%3, v)
	}
	return m
}

// FromMat reads a 3x3 CV_64F homography. ok is false for empty, non-finite
// or singular matrices.
func FromMat(m gocv.Mat) (Transform, bool) {
	if m.Empty() || m.Rows() != 3 || m.Cols() != 3 {
		return Identity(), false
	}
	var t Transform
	for i := range t {
		v := m.GetDoubleAt(i/3, i%3)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Identity(), false
		}
		t[i] = v
	}
	if math.Abs(t[8]) < 1e-12 || math.Abs(t.det()) < 1e-12 {
		return Identity(), false
	}
	return t.normalized(), true
}

func (t Transform) det() float64 {
	return t[0]*(t[4]*t[8]-t[5]*t[7]) -
		t[1]*(t[3]*t[8]-t[5]*t[6]) +
		t[2]*(t[3]*t[7]-t[4]*t[6])
}

func (t Transform) normalized() Transform {
	if t[8] == 0 || t[8] == 1 {
		return t
	}
	s := t[8]
	for i := range t {
		t[i] /= s
	}
	return t
}

package registration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// rigidRotation returns the rotation R minimising Σ |R·src_i - dst_i|²
// (Kabsch). An empty point set gives the identity.
func rigidRotation(src, dst []r3.Vec) (*r3.Mat, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%d source points for %d target points", len(src), len(dst))
	}
	if len(src) == 0 {
		return r3.NewMat([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), nil
	}

	h, outer := r3.NewMat(nil), r3.NewMat(nil)
	for i, p := range src {
		outer.Outer(1, p, dst[i])
		h.Add(h, outer)
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, fmt.Errorf("singular value decomposition of the landmark covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Flip the last axis if V·Uᵀ would be a reflection.
	d := 1.0
	if mat.Det(&v)*mat.Det(&u) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})
	var vd, rot mat.Dense
	vd.Mul(&v, diag)
	rot.Mul(&vd, u.T())

	out := r3.NewMat(nil)
	out.CloneFrom(&rot)
	return out, nil
}

// rotateAll returns R·p for every p.
func rotateAll(rot *r3.Mat, points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = rot.MulVec(p)
	}
	return out
}

// unrotateAll returns Rᵀ·p for every p.
func unrotateAll(rot *r3.Mat, points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = rot.MulVecTrans(p)
	}
	return out
}

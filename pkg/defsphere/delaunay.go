package defsphere

import "gonum.org/v1/gonum/spatial/r3"

// circleTolerance is the relative margin by which a point must fall inside a
// circumcircle before its edge is flipped, so cocircular quads stay put.
const circleTolerance = 1e-12

// inCircle reports whether q lies inside the circumcircle of the
// counter-clockwise triangle (u, v, p). On a sphere the circumcircle is the
// intersection with the triangle's plane, and the inside is the cap on the
// side the outward normal points to.
func (t *triangulation) inCircle(u, v, p, q int) bool {
	a := t.pos[u]
	n := r3.Cross(r3.Sub(t.pos[v], a), r3.Sub(t.pos[p], a))
	return r3.Dot(n, r3.Sub(t.pos[q], a)) > circleTolerance*r3.Norm(n)*r3.Norm(a)
}

// lawson restores the Delaunay property around the seed vertices by flipping
// unconstrained edges, spreading outward from every flip.
func (t *triangulation) lawson(seed []int, constrained map[edgeKey]bool) int {
	var queue [][2]int
	queued := make(map[edgeKey]bool)
	push := func(u, v int) {
		k := keyOf(u, v)
		if constrained[k] || queued[k] {
			return
		}
		queued[k] = true
		queue = append(queue, [2]int{u, v})
	}

	for _, v := range seed {
		fan, err := t.fan(v)
		if err != nil {
			continue
		}
		for _, ti := range fan {
			tri := t.tris[ti]
			push(tri[0], tri[1])
			push(tri[1], tri[2])
			push(tri[2], tri[0])
		}
	}

	flips := 0
	budget := 20*len(queue) + 1000
	for len(queue) > 0 && budget > 0 {
		budget--
		e := queue[0]
		queue = queue[1:]
		delete(queued, keyOf(e[0], e[1]))

		u, v := e[0], e[1]
		if !t.hasEdge(u, v) {
			continue
		}
		p, q, ok := t.quad(u, v)
		if !ok || !t.inCircle(u, v, p, q) {
			continue
		}
		if !t.convex(u, v, p, q) || t.hasEdge(p, q) {
			continue
		}
		if _, _, err := t.flip(u, v); err != nil {
			continue
		}
		flips++
		push(u, q)
		push(q, v)
		push(v, p)
		push(p, u)
	}
	return flips
}

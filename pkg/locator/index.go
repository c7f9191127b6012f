package locator

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// The host vertices are indexed by direction in a gonum k-d tree. The types
// below adapt a slice of directions to kdtree.Interface so the tree can be
// built with kdtree.New and searched with an NKeeper.

// dirPoint is a vertex direction stored in the k-d tree together with the
// vertex index it came from.
type dirPoint struct {
	// Vec is the unit direction of the vertex.
	r3.Vec

	// index is the host vertex the direction belongs to. Query points
	// leave it zero.
	index int
}

// Compare implements the kdtree.Comparable interface. It returns the signed
// distance between p and c along dimension d.
func (p dirPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(dirPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree.
func (p dirPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two directions,
// which orders neighbours the same way as their angle.
func (p dirPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(dirPoint)
	return r3.Norm2(r3.Sub(p.Vec, q.Vec))
}

// dirPoints is a collection of dirPoint that satisfies kdtree.Interface.
// kdtree.New reorders it in place while building the tree.
type dirPoints []dirPoint

func (p dirPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p dirPoints) Len() int                              { return len(p) }
func (p dirPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method. It partitions the points
// about a median of random samples along dimension d and returns the
// pivot's index.
func (p dirPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(dirPlane{dirPoints: p, Dim: d}, kdtree.MedianOfRandoms(dirPlane{dirPoints: p, Dim: d}, 100))
}

// dirPlane implements sort.Interface and kdtree.SortSlicer for dirPoints,
// ordering them along one dimension.
type dirPlane struct {
	dirPoints

	// Dim is the coordinate compared by Less.
	kdtree.Dim
}

func (p dirPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.dirPoints[i].X < p.dirPoints[j].X
	case 1:
		return p.dirPoints[i].Y < p.dirPoints[j].Y
	case 2:
		return p.dirPoints[i].Z < p.dirPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p dirPlane) Slice(start, end int) kdtree.SortSlicer {
	return dirPlane{dirPoints: p.dirPoints[start:end], Dim: p.Dim}
}

func (p dirPlane) Swap(i, j int) {
	p.dirPoints[i], p.dirPoints[j] = p.dirPoints[j], p.dirPoints[i]
}

// nearestVertices returns the indices of up to n vertices closest to the
// direction q.
//
// Parameters:
//   - tree: k-d tree built over dirPoints
//   - q: unit query direction
//   - n: maximum number of vertices to return
//
// Returns:
//   - host vertex indices, in no particular order
func nearestVertices(tree *kdtree.Tree, q r3.Vec, n int) []int {
	keeper := kdtree.NewNKeeper(n)
	tree.NearestSet(keeper, dirPoint{Vec: q})

	out := make([]int, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		out = append(out, item.Comparable.(dirPoint).index)
	}
	return out
}

package defmap

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// magic opens every deformation map file.
var magic = [8]byte{'S', 'R', 'F', 'M', 'A', 'P', '0', '1'}

// fileHeader is the fixed-size head of a map file. Hashes are stored as raw
// SHA-256 digests; an all-zero digest means none was recorded.
type fileHeader struct {
	Magic          [8]byte
	FromVertices   uint32
	OntoVertices   uint32
	FromTriangles  uint32
	FromTopology   [32]byte
	OntoTopology   [32]byte
	ScheduleDigest [32]byte
}

// record is one map entry on disk.
type record struct {
	OntoVertex uint32
	Triangle   uint32
	Weights    [3]float64
}

func digestBytes(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("invalid digest %q", s)
	}
	copy(out[:], b)
	return out, nil
}

func digestString(b [32]byte) string {
	if b == ([32]byte{}) {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// toUint32 checks that a count fits the 32-bit fields of the file format.
func toUint32(what string, n int64) (uint32, error) {
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%s %d does not fit the map file format", what, n)
	}
	return uint32(n), nil
}

// WriteTo writes the map in little-endian binary form: a header, the
// triangle list of the mesh mapped from, then one record
// (onto vertex, triangle, w_a, w_b, w_c) per entry. Counts above
// math.MaxUint32 and indices out of range are rejected before anything is
// written.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	h := fileHeader{Magic: magic}
	var err error
	if h.FromVertices, err = toUint32("vertex count", int64(m.Header.FromVertices)); err != nil {
		return 0, err
	}
	if h.OntoVertices, err = toUint32("vertex count", int64(m.Header.OntoVertices)); err != nil {
		return 0, err
	}
	if h.FromTriangles, err = toUint32("triangle count", int64(len(m.Triangles))); err != nil {
		return 0, err
	}
	if len(m.Entries) != m.Header.OntoVertices {
		return 0, fmt.Errorf("%d entries for %d vertices: %w", len(m.Entries), m.Header.OntoVertices, ErrMismatch)
	}
	for i, t := range m.Triangles {
		for _, v := range t {
			if v < 0 || v >= m.Header.FromVertices {
				return 0, fmt.Errorf("triangle %d references vertex %d of %d", i, v, m.Header.FromVertices)
			}
		}
	}
	for i, e := range m.Entries {
		if e.Triangle < 0 || e.Triangle >= len(m.Triangles) {
			return 0, fmt.Errorf("map entry %d references triangle %d of %d", i, e.Triangle, len(m.Triangles))
		}
	}

	if h.FromTopology, err = digestBytes(m.Header.FromTopology); err != nil {
		return 0, err
	}
	if h.OntoTopology, err = digestBytes(m.Header.OntoTopology); err != nil {
		return 0, err
	}
	if h.ScheduleDigest, err = digestBytes(m.Header.ScheduleDigest); err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return cw.n, fmt.Errorf("error writing map header: %w", err)
	}
	for _, t := range m.Triangles {
		tri := [3]uint32{uint32(t[0]), uint32(t[1]), uint32(t[2])}
		if err := binary.Write(bw, binary.LittleEndian, &tri); err != nil {
			return cw.n, fmt.Errorf("error writing triangles: %w", err)
		}
	}
	for i, e := range m.Entries {
		r := record{OntoVertex: uint32(i), Triangle: uint32(e.Triangle), Weights: e.Weights}
		if err := binary.Write(bw, binary.LittleEndian, &r); err != nil {
			return cw.n, fmt.Errorf("error writing map entry %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Read parses a map written by WriteTo.
func Read(r io.Reader) (*Map, error) {
	br := bufio.NewReader(r)
	var h fileHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("error reading map header: %w", err)
	}
	if h.Magic != magic {
		return nil, errors.New("not a deformation map file")
	}

	m := &Map{
		Header: Header{
			FromTopology:   digestString(h.FromTopology),
			OntoTopology:   digestString(h.OntoTopology),
			FromVertices:   int(h.FromVertices),
			OntoVertices:   int(h.OntoVertices),
			ScheduleDigest: digestString(h.ScheduleDigest),
		},
		Triangles: make([][3]int, h.FromTriangles),
		Entries:   make([]Entry, h.OntoVertices),
	}
	for i := range m.Triangles {
		var tri [3]uint32
		if err := binary.Read(br, binary.LittleEndian, &tri); err != nil {
			return nil, fmt.Errorf("error reading triangle %d: %w", i, err)
		}
		for k, v := range tri {
			if int(v) >= m.Header.FromVertices {
				return nil, fmt.Errorf("triangle %d references vertex %d of %d", i, v, m.Header.FromVertices)
			}
			m.Triangles[i][k] = int(v)
		}
	}
	for i := range m.Entries {
		var rec record
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("error reading map entry %d: %w", i, err)
		}
		if int(rec.OntoVertex) != i || int(rec.Triangle) >= len(m.Triangles) {
			return nil, fmt.Errorf("corrupt map entry %d (vertex %d, triangle %d)", i, rec.OntoVertex, rec.Triangle)
		}
		m.Entries[i] = Entry{Triangle: int(rec.Triangle), Weights: rec.Weights}
	}
	return m, nil
}

// Save writes the map to path, creating the parent directory if needed.
func (m *Map) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating map directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating map file: %w", err)
	}
	if _, err := m.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a map file written by Save.
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening map file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

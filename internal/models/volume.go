// Package models defines the volume data types shared across the pipeline.
// All volumes are stored as flat arrays in x-fastest row-major order so that
// a voxel at (x, y, z) lives at index z*NX*NY + y*NX + x.
package models

import "fmt"

// Volume is a 3D scalar field, typically a single activity frame or a
// computed parameter map.
type Volume struct {
	// Data is the voxel values as a 1D array in x-fastest order
	Data []float64

	// NX, NY, NZ are the volume dimensions in voxels.
	// The third axis (Z) is the axial direction.
	NX, NY, NZ int
}

// NewVolume allocates a zero-filled volume with the given dimensions.
func NewVolume(nx, ny, nz int) *Volume {
	return &Volume{
		Data: make([]float64, nx*ny*nz),
		NX:   nx,
		NY:   ny,
		NZ:   nz,
	}
}

// Idx returns the flat index of the voxel at (x, y, z).
func (v *Volume) Idx(x, y, z int) int {
	return (z*v.NY+y)*v.NX + x
}

// At returns the value of the voxel at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[(z*v.NY+y)*v.NX+x]
}

// Set stores a value at (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[(z*v.NY+y)*v.NX+x] = val
}

// Permute returns a copy of the volume with its axes reordered so that
// output axis a corresponds to input axis perm[a]. perm must be a
// permutation of {0, 1, 2}.
func (v *Volume) Permute(perm [3]int) *Volume {
	dims := [3]int{v.NX, v.NY, v.NZ}
	nd := [3]int{dims[perm[0]], dims[perm[1]], dims[perm[2]]}
	out := NewVolume(nd[0], nd[1], nd[2])
	var c, o [3]int
	for c[2] = 0; c[2] < nd[2]; c[2]++ {
		for c[1] = 0; c[1] < nd[1]; c[1]++ {
			for c[0] = 0; c[0] < nd[0]; c[0]++ {
				o[perm[0]], o[perm[1]], o[perm[2]] = c[0], c[1], c[2]
				out.Set(c[0], c[1], c[2], v.At(o[0], o[1], o[2]))
			}
		}
	}
	return out
}

// Mask is a 3D binary volume, stored and indexed like Volume.
type Mask struct {
	// Data holds one flag per voxel in x-fastest order
	Data []bool

	// NX, NY, NZ are the mask dimensions in voxels
	NX, NY, NZ int
}

// NewMask allocates an empty mask with the given dimensions.
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{
		Data: make([]bool, nx*ny*nz),
		NX:   nx,
		NY:   ny,
		NZ:   nz,
	}
}

// Idx returns the flat index of the voxel at (x, y, z).
func (m *Mask) Idx(x, y, z int) int {
	return (z*m.NY+y)*m.NX + x
}

// At reports whether the voxel at (x, y, z) is inside the mask.
func (m *Mask) At(x, y, z int) bool {
	return m.Data[(z*m.NY+y)*m.NX+x]
}

// Set stores a flag at (x, y, z).
func (m *Mask) Set(x, y, z int, val bool) {
	m.Data[(z*m.NY+y)*m.NX+x] = val
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.NX, m.NY, m.NZ)
	copy(out.Data, m.Data)
	return out
}

// Permute returns a copy of the mask with its axes reordered so that
// output axis a corresponds to input axis perm[a].
func (m *Mask) Permute(perm [3]int) *Mask {
	dims := [3]int{m.NX, m.NY, m.NZ}
	nd := [3]int{dims[perm[0]], dims[perm[1]], dims[perm[2]]}
	out := NewMask(nd[0], nd[1], nd[2])
	var c, o [3]int
	for c[2] = 0; c[2] < nd[2]; c[2]++ {
		for c[1] = 0; c[1] < nd[1]; c[1]++ {
			for c[0] = 0; c[0] < nd[0]; c[0]++ {
				o[perm[0]], o[perm[1]], o[perm[2]] = c[0], c[1], c[2]
				out.Set(c[0], c[1], c[2], m.At(o[0], o[1], o[2]))
			}
		}
	}
	return out
}

// InversePermutation returns the permutation that undoes perm.
func InversePermutation(perm [3]int) [3]int {
	var inv [3]int
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// AnatomicalLabel identifies one of the four aortic zones. The codes are
// fixed and stable; 0 is background/unlabeled.
type AnatomicalLabel uint8

const (
	Background       AnatomicalLabel = 0
	Ascending        AnatomicalLabel = 1
	Top              AnatomicalLabel = 2
	Descending       AnatomicalLabel = 3
	DescendingBottom AnatomicalLabel = 4
)

// AnatomicalLabels lists the four zone codes in their canonical order.
var AnatomicalLabels = []AnatomicalLabel{Ascending, Top, Descending, DescendingBottom}

// String returns the anatomical name of the label.
func (l AnatomicalLabel) String() string {
	switch l {
	case Ascending:
		return "ASCENDING"
	case Top:
		return "TOP"
	case Descending:
		return "DESCENDING"
	case DescendingBottom:
		return "DESCENDING_BOTTOM"
	}
	return fmt.Sprintf("LABEL(%d)", uint8(l))
}

// LabelVolume is an integer-labeled 3D volume holding anatomical label
// codes, stored and indexed like Volume.
type LabelVolume struct {
	// Data holds one label code per voxel in x-fastest order
	Data []uint8

	// NX, NY, NZ are the volume dimensions in voxels
	NX, NY, NZ int
}

// NewLabelVolume allocates a background-filled label volume.
func NewLabelVolume(nx, ny, nz int) *LabelVolume {
	return &LabelVolume{
		Data: make([]uint8, nx*ny*nz),
		NX:   nx,
		NY:   ny,
		NZ:   nz,
	}
}

// Idx returns the flat index of the voxel at (x, y, z).
func (l *LabelVolume) Idx(x, y, z int) int {
	return (z*l.NY+y)*l.NX + x
}

// At returns the label code of the voxel at (x, y, z).
func (l *LabelVolume) At(x, y, z int) AnatomicalLabel {
	return AnatomicalLabel(l.Data[(z*l.NY+y)*l.NX+x])
}

// Set stores a label code at (x, y, z).
func (l *LabelVolume) Set(x, y, z int, label AnatomicalLabel) {
	l.Data[(z*l.NY+y)*l.NX+x] = uint8(label)
}

// Clone returns a deep copy of the label volume.
func (l *LabelVolume) Clone() *LabelVolume {
	out := NewLabelVolume(l.NX, l.NY, l.NZ)
	copy(out.Data, l.Data)
	return out
}

// MaskOf returns the binary mask of all voxels carrying the given label.
func (l *LabelVolume) MaskOf(label AnatomicalLabel) *Mask {
	out := NewMask(l.NX, l.NY, l.NZ)
	for i, code := range l.Data {
		out.Data[i] = AnatomicalLabel(code) == label
	}
	return out
}

// DynamicVolume is a 4D time series of activity frames. Voxel time courses
// are stored contiguously: the sample at (x, y, z, t) lives at index
// ((z*NY+y)*NX+x)*NT + t, which also makes any axial range of slices a
// contiguous block.
type DynamicVolume struct {
	// Data holds the samples, time axis fastest
	Data []float64

	// NX, NY, NZ are the spatial dimensions, NT the number of frames
	NX, NY, NZ, NT int

	// FrameTimes are the per-frame sample times in seconds, one per frame
	FrameTimes []float64
}

// NewDynamicVolume allocates a zero-filled dynamic volume. frameTimes must
// have length nt.
func NewDynamicVolume(nx, ny, nz, nt int, frameTimes []float64) *DynamicVolume {
	return &DynamicVolume{
		Data:       make([]float64, nx*ny*nz*nt),
		NX:         nx,
		NY:         ny,
		NZ:         nz,
		NT:         nt,
		FrameTimes: frameTimes,
	}
}

// Idx returns the flat index of the sample at (x, y, z, t).
func (d *DynamicVolume) Idx(x, y, z, t int) int {
	return ((z*d.NY+y)*d.NX+x)*d.NT + t
}

// At returns the sample at (x, y, z, t).
func (d *DynamicVolume) At(x, y, z, t int) float64 {
	return d.Data[((z*d.NY+y)*d.NX+x)*d.NT+t]
}

// Set stores a sample at (x, y, z, t).
func (d *DynamicVolume) Set(x, y, z, t int, val float64) {
	d.Data[((z*d.NY+y)*d.NX+x)*d.NT+t] = val
}

// Affine is a 4x4 voxel-to-world transform in row-major order.
type Affine [4][4]float64

// DiagonalAffine builds an axis-aligned affine from voxel spacings in mm.
func DiagonalAffine(sx, sy, sz float64) Affine {
	return Affine{
		{sx, 0, 0, 0},
		{0, sy, 0, 0},
		{0, 0, sz, 0},
		{0, 0, 0, 1},
	}
}

// VoxelSpacing returns the physical voxel size in mm along each axis,
// taken from the absolute values of the affine diagonal. Off-diagonal
// shear and rotation terms are ignored.
func (a Affine) VoxelSpacing() [3]float64 {
	var s [3]float64
	for i := 0; i < 3; i++ {
		s[i] = a[i][i]
		if s[i] < 0 {
			s[i] = -s[i]
		}
	}
	return s
}

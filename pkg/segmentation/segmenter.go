package segmentation

import (
	"fmt"

	"aortakinetics/internal/models"
)

// TopologyError reports that the pre-arch portion of the mask did not
// decompose into exactly two connected components (one ascending and one
// descending tube), so ascending/descending assignment is impossible.
type TopologyError struct {
	// Components is the number of 3D components found below the arch
	Components int
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("segmentation: expected 2 pre-arch components (ascending and descending), found %d", e.Components)
}

// Segment partitions a binary aorta mask into the four anatomical zones.
//
// The mask is cut at the curve index to isolate the pre-arch portion, whose
// two 3D connected components are assigned by size: the larger one is the
// descending aorta, the smaller the ascending. Everything at or beyond the
// curve index is the arch (TOP), and descending voxels below the start index
// become DESCENDING_BOTTOM.
//
// The four labeled zones are pairwise disjoint and their union equals the
// input mask exactly.
func Segment(mask *models.Mask) (*models.LabelVolume, BoundaryIndices, error) {
	bounds, err := FindBoundaries(mask)
	if err != nil {
		return nil, BoundaryIndices{}, err
	}

	seg, err := segmentWithBoundaries(mask, bounds)
	if err != nil {
		return nil, BoundaryIndices{}, err
	}
	return seg, bounds, nil
}

// segmentWithBoundaries performs the labeling given already-detected
// boundary indices.
func segmentWithBoundaries(mask *models.Mask, bounds BoundaryIndices) (*models.LabelVolume, error) {
	// Isolate the pre-arch portion of the mask
	preArch := mask.Clone()
	for z := bounds.Curve; z < preArch.NZ; z++ {
		for y := 0; y < preArch.NY; y++ {
			for x := 0; x < preArch.NX; x++ {
				preArch.Set(x, y, z, false)
			}
		}
	}

	components, count := labelComponents3D(preArch)
	if count != 2 {
		return nil, &TopologyError{Components: count}
	}

	// Component sizes decide anatomical identity
	var size [3]int
	for _, c := range components {
		if c > 0 {
			size[c]++
		}
	}
	mapping := assignBySize(size[1], size[2])

	out := models.NewLabelVolume(mask.NX, mask.NY, mask.NZ)
	for i, c := range components {
		if c > 0 {
			out.Data[i] = uint8(mapping[c])
		}
	}

	// Everything at or beyond the curve index is the arch
	for z := bounds.Curve; z < mask.NZ; z++ {
		for y := 0; y < mask.NY; y++ {
			for x := 0; x < mask.NX; x++ {
				if mask.At(x, y, z) {
					out.Set(x, y, z, models.Top)
				}
			}
		}
	}

	// Descending voxels below the start index form the bottom zone
	for z := 0; z < bounds.Start && z < mask.NZ; z++ {
		for y := 0; y < mask.NY; y++ {
			for x := 0; x < mask.NX; x++ {
				if out.At(x, y, z) == models.Descending {
					out.Set(x, y, z, models.DescendingBottom)
				}
			}
		}
	}

	return out, nil
}

// assignBySize is the explicit anatomical-identity heuristic: the component
// with the larger voxel volume is taken to be the descending aorta, the
// smaller the ascending. This holds for typical anatomy but can misassign on
// looped or post-surgical aortas; callers that know better can relabel the
// output.
func assignBySize(size1, size2 int) [3]models.AnatomicalLabel {
	if size1 > size2 {
		return [3]models.AnatomicalLabel{models.Background, models.Descending, models.Ascending}
	}
	return [3]models.AnatomicalLabel{models.Background, models.Ascending, models.Descending}
}

// labelComponents3D labels the 6-connected components of a binary mask with
// consecutive integers starting at 1, in scan order, returning the per-voxel
// labels and the component count.
func labelComponents3D(mask *models.Mask) ([]int32, int) {
	nx, ny, nz := mask.NX, mask.NY, mask.NZ
	labels := make([]int32, nx*ny*nz)
	var queue []int
	count := 0

	dx := [6]int{-1, 1, 0, 0, 0, 0}
	dy := [6]int{0, 0, -1, 1, 0, 0}
	dz := [6]int{0, 0, 0, 0, -1, 1}

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				idx := mask.Idx(x, y, z)
				if labels[idx] != 0 || !mask.Data[idx] {
					continue
				}

				count++
				labels[idx] = int32(count)
				queue = append(queue[:0], idx)
				for len(queue) > 0 {
					curr := queue[0]
					queue = queue[1:]
					cz := curr / (nx * ny)
					rem := curr % (nx * ny)
					cy := rem / nx
					cx := rem % nx
					for d := 0; d < 6; d++ {
						px := cx + dx[d]
						py := cy + dy[d]
						pz := cz + dz[d]
						if px < 0 || px >= nx || py < 0 || py >= ny || pz < 0 || pz >= nz {
							continue
						}
						pi := mask.Idx(px, py, pz)
						if labels[pi] == 0 && mask.Data[pi] {
							labels[pi] = int32(count)
							queue = append(queue, pi)
						}
					}
				}
			}
		}
	}

	return labels, count
}

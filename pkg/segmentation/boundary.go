// Package segmentation partitions a binary aorta mask into four anatomical
// zones (ascending, top/arch, descending, descending bottom) and refines the
// result against measured tracer uptake.
//
// The anatomical split relies on the axial topology of the aorta: below the
// arch the vessel crosses each axial slice as two separate tubes (ascending
// and descending), while the arch itself crosses as a single curved tube.
// Counting connected components per slice therefore yields a 1-2-1 signature
// whose transitions locate the arch.
package segmentation

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"aortakinetics/internal/models"
)

// BoundaryIndices holds the two axial transition points of the aorta:
// Start is where the single descending tube splits into two cross-sections,
// Curve is where the two cross-sections rejoin into the arch.
type BoundaryIndices struct {
	Start int
	Curve int
}

// BoundaryDetectionError reports that the per-slice topology signal did not
// contain exactly one occurrence of an expected transition pattern, meaning
// the mask does not correspond to single-arch anatomy.
type BoundaryDetectionError struct {
	// Pattern is the transition pattern that was searched for
	Pattern []int

	// Matches is the number of occurrences found (expected exactly 1)
	Matches int
}

func (e *BoundaryDetectionError) Error() string {
	return fmt.Sprintf("boundary detection: expected 1 match of pattern %v in slice topology, found %d", e.Pattern, e.Matches)
}

// FindBoundaries locates the two axial transition points of a binary aorta
// mask. For every axial slice it counts 2D connected components
// (4-connectivity), clamps the count at 2 to suppress spurious fragments,
// smooths the sequence with a width-5 median filter, and then requires
// exactly one occurrence of the split pattern [1,1,2,2] and one of the
// rejoin pattern [2,2,1,1].
func FindBoundaries(mask *models.Mask) (BoundaryIndices, error) {
	profile := axialComponentProfile(mask)

	// Cap the component count at 2: anything above is noise from
	// disconnected fragments and must not break the 1-2-1 signature.
	for i, c := range profile {
		if c > 2 {
			profile[i] = 2
		}
	}

	profile = medianFilter(profile, 5)

	start, err := findTransition(profile, []int{1, 1, 2, 2})
	if err != nil {
		return BoundaryIndices{}, err
	}
	curve, err := findTransition(profile, []int{2, 2, 1, 1})
	if err != nil {
		return BoundaryIndices{}, err
	}

	return BoundaryIndices{Start: start, Curve: curve}, nil
}

// axialComponentProfile counts the 2D connected components of each axial
// slice of the mask.
func axialComponentProfile(mask *models.Mask) []int {
	profile := make([]int, mask.NZ)
	for z := 0; z < mask.NZ; z++ {
		profile[z] = countSliceComponents(mask, z)
	}
	return profile
}

// countSliceComponents counts 4-connected components within one axial slice
// using a breadth-first flood fill over the slice's voxels.
func countSliceComponents(mask *models.Mask, z int) int {
	nx, ny := mask.NX, mask.NY
	visited := make([]bool, nx*ny)
	var queue []int
	count := 0

	dx := [4]int{-1, 1, 0, 0}
	dy := [4]int{0, 0, -1, 1}

	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			idx := y*nx + x
			if visited[idx] || !mask.At(x, y, z) {
				continue
			}

			// New component: flood fill from this voxel
			count++
			visited[idx] = true
			queue = append(queue[:0], idx)
			for len(queue) > 0 {
				curr := queue[0]
				queue = queue[1:]
				cy := curr / nx
				cx := curr % nx
				for d := 0; d < 4; d++ {
					px := cx + dx[d]
					py := cy + dy[d]
					if px < 0 || px >= nx || py < 0 || py >= ny {
						continue
					}
					pi := py*nx + px
					if !visited[pi] && mask.At(px, py, z) {
						visited[pi] = true
						queue = append(queue, pi)
					}
				}
			}
		}
	}

	return count
}

// medianFilter applies a running median of the given window size to the
// sequence, reflecting it at both ends so single-slice artifacts near the
// boundaries are handled the same way as interior ones.
func medianFilter(seq []int, size int) []int {
	n := len(seq)
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	window := make([]float64, size)
	half := size / 2
	for i := 0; i < n; i++ {
		for w := 0; w < size; w++ {
			j := i - half + w
			// Reflect out-of-range indices: (d c b a | a b c d | d c b a)
			if j < 0 {
				j = -j - 1
			}
			if j >= n {
				j = 2*n - j - 1
			}
			window[w] = float64(seq[j])
		}
		med, err := stats.Median(window)
		if err != nil {
			// Unreachable for a non-empty window
			med = float64(seq[i])
		}
		out[i] = int(med)
	}
	return out
}

// findTransition scans the sequence for the given contiguous pattern and
// returns the index straddling the transition (the match position offset by
// half the pattern length). Zero or multiple matches means the mask topology
// is malformed and yields a *BoundaryDetectionError.
func findTransition(seq, pattern []int) (int, error) {
	matches := 0
	pos := -1
	for i := 0; i+len(pattern) <= len(seq); i++ {
		ok := true
		for j, p := range pattern {
			if seq[i+j] != p {
				ok = false
				break
			}
		}
		if ok {
			matches++
			pos = i
		}
	}
	if matches != 1 {
		return 0, &BoundaryDetectionError{Pattern: pattern, Matches: matches}
	}
	return pos + len(pattern)/2, nil
}

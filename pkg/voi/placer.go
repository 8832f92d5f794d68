// Package voi places calibrated-volume cylindrical volumes of interest
// inside anatomical zones, guided by local tracer uptake, and orchestrates
// per-zone extraction over a segmented aorta.
package voi

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"aortakinetics/internal/models"
)

// Placer builds a cylindrical VOI of a requested physical volume inside a
// binary zone mask, centered on the axial window of highest median uptake.
type Placer struct {
	// VolumeML is the target VOI volume in milliliters
	VolumeML float64

	// CylinderWidth is the VOI cross-section width in voxels
	CylinderWidth int
}

// Placement is the result of placing one VOI.
type Placement struct {
	// VOI is the binary VOI mask, same shape as the zone mask
	VOI *models.Mask

	// AchievedML is the realized VOI volume in milliliters. Volume is
	// discretized by slice count times cross-section, so it can deviate
	// from the target by up to one slice-quantum.
	AchievedML float64

	// Slices is the axial extent of the cylinder in slices
	Slices int

	// StartSlice is the first axial slice of the cylinder
	StartSlice int
}

// Place builds the VOI for one zone. The activity frame must be
// co-registered with the zone mask; spacing is the physical voxel size in
// mm along each axis.
//
// The cylinder length is derived from the target volume and the cross-
// section capacity; its axial position is the window maximizing the
// smoothed per-slice median uptake; within each slice the cylinder is
// centered on the activity-weighted centroid of the zone. The returned VOI
// is always a subset of the zone mask.
func (p *Placer) Place(zone *models.Mask, activity *models.Volume, spacing [3]float64) (*Placement, error) {
	if zone.NX != activity.NX || zone.NY != activity.NY || zone.NZ != activity.NZ {
		return nil, fmt.Errorf("voi: zone mask %dx%dx%d does not match activity frame %dx%dx%d",
			zone.NX, zone.NY, zone.NZ, activity.NX, activity.NY, activity.NZ)
	}
	if p.CylinderWidth < 1 {
		return nil, fmt.Errorf("voi: cylinder width must be at least 1, got %d", p.CylinderWidth)
	}
	if zone.Count() == 0 {
		return nil, fmt.Errorf("voi: zone mask is empty")
	}

	voxelVolume := spacing[0] * spacing[1] * spacing[2]
	if voxelVolume <= 0 {
		return nil, fmt.Errorf("voi: non-positive voxel volume from spacing %v", spacing)
	}

	// Convert the target volume to a slice count given the cross-section
	// capacity of cylinderWidth^2 voxels per slice.
	targetVoxels := int(p.VolumeML * 1000 / voxelVolume)
	capacity := p.CylinderWidth * p.CylinderWidth
	nSlices := (targetVoxels + capacity - 1) / capacity
	if nSlices < 1 {
		nSlices = 1
	}
	if nSlices > zone.NZ {
		nSlices = zone.NZ
	}

	// Find the axial window with the highest smoothed median uptake
	profile := sliceMedianUptake(zone, activity)
	profile = movingAverage(profile, nSlices)
	peak := argmax(profile)
	start := peak - nSlices/2
	if start < 0 {
		start = 0
	}
	if start+nSlices > zone.NZ {
		start = zone.NZ - nSlices
	}

	// Seed one voxel per slice at the activity-weighted centroid of the
	// zone, then dilate to the full cross-section.
	seeds := models.NewMask(zone.NX, zone.NY, zone.NZ)
	for z := start; z < start+nSlices; z++ {
		cx, cy, ok := sliceCentroid(zone, activity, z)
		if !ok {
			// No in-zone activity on this slice; it contributes no seed
			continue
		}
		seeds.Set(cx, cy, z, true)
	}

	voiMask := dilateCrossSection(seeds, p.CylinderWidth)

	// Keep the VOI inside the zone it was placed in
	for i := range voiMask.Data {
		voiMask.Data[i] = voiMask.Data[i] && zone.Data[i]
	}

	achieved := float64(voiMask.Count()) * voxelVolume / 1000
	return &Placement{
		VOI:        voiMask,
		AchievedML: achieved,
		Slices:     nSlices,
		StartSlice: start,
	}, nil
}

// PlacePermuted runs Place in a coordinate frame with the given axis
// permutation applied and maps the resulting VOI back to the original
// frame. This is how the arch (TOP) zone is handled: its principal
// direction is coronal rather than axial, so the placer runs with the Y and
// Z axes swapped.
func (p *Placer) PlacePermuted(zone *models.Mask, activity *models.Volume, spacing [3]float64, perm [3]int) (*Placement, error) {
	permSpacing := [3]float64{spacing[perm[0]], spacing[perm[1]], spacing[perm[2]]}
	placement, err := p.Place(zone.Permute(perm), activity.Permute(perm), permSpacing)
	if err != nil {
		return nil, err
	}
	placement.VOI = placement.VOI.Permute(models.InversePermutation(perm))
	return placement, nil
}

// sliceMedianUptake computes, per axial slice, the median activity over
// in-zone voxels only. Slices with no in-zone voxels get 0.
func sliceMedianUptake(zone *models.Mask, activity *models.Volume) []float64 {
	profile := make([]float64, zone.NZ)
	var values []float64
	for z := 0; z < zone.NZ; z++ {
		values = values[:0]
		for y := 0; y < zone.NY; y++ {
			for x := 0; x < zone.NX; x++ {
				if zone.At(x, y, z) {
					values = append(values, activity.At(x, y, z))
				}
			}
		}
		if len(values) == 0 {
			continue
		}
		med, err := stats.Median(values)
		if err != nil {
			continue
		}
		profile[z] = med
	}
	return profile
}

// movingAverage smooths the sequence with a centered window of the given
// size, reflecting it at both ends.
func movingAverage(seq []float64, size int) []float64 {
	n := len(seq)
	if n == 0 || size <= 1 {
		return seq
	}
	out := make([]float64, n)
	half := size / 2
	for i := 0; i < n; i++ {
		sum := 0.0
		for w := 0; w < size; w++ {
			j := i - half + w
			if j < 0 {
				j = -j - 1
			}
			if j >= n {
				j = 2*n - j - 1
			}
			sum += seq[j]
		}
		out[i] = sum / float64(size)
	}
	return out
}

// argmax returns the index of the first maximum of the sequence.
func argmax(seq []float64) int {
	best := 0
	for i, v := range seq {
		if v > seq[best] {
			best = i
		}
	}
	return best
}

// sliceCentroid returns the activity-weighted centroid of the zone within
// one axial slice, rounded to the nearest voxel. Out-of-zone voxels
// contribute zero weight. ok is false when the slice carries no in-zone
// activity.
func sliceCentroid(zone *models.Mask, activity *models.Volume, z int) (cx, cy int, ok bool) {
	var wx, wy, total float64
	for y := 0; y < zone.NY; y++ {
		for x := 0; x < zone.NX; x++ {
			if !zone.At(x, y, z) {
				continue
			}
			w := activity.At(x, y, z)
			wx += w * float64(x)
			wy += w * float64(y)
			total += w
		}
	}
	if total <= 0 {
		return 0, 0, false
	}
	cx = int(math.Round(wx / total))
	cy = int(math.Round(wy / total))
	if cx < 0 || cx >= zone.NX || cy < 0 || cy >= zone.NY {
		return 0, 0, false
	}
	return cx, cy, true
}

// dilateCrossSection grows each seed voxel into a width x width square in
// its own slice (a flat structuring element along the axial direction),
// clipped at the mask bounds.
func dilateCrossSection(seeds *models.Mask, width int) *models.Mask {
	out := models.NewMask(seeds.NX, seeds.NY, seeds.NZ)
	lo := -(width / 2)
	hi := width - 1 - width/2
	for z := 0; z < seeds.NZ; z++ {
		for y := 0; y < seeds.NY; y++ {
			for x := 0; x < seeds.NX; x++ {
				if !seeds.At(x, y, z) {
					continue
				}
				for dy := lo; dy <= hi; dy++ {
					for dx := lo; dx <= hi; dx++ {
						px, py := x+dx, y+dy
						if px < 0 || px >= seeds.NX || py < 0 || py >= seeds.NY {
							continue
						}
						out.Set(px, py, z, true)
					}
				}
			}
		}
	}
	return out
}

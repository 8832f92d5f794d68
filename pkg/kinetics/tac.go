package kinetics

import (
	"fmt"

	"aortakinetics/internal/models"
)

// ExtractTAC computes the mean time-activity curve of the dynamic volume
// over the masked voxels, one sample per frame. This is how the input
// function for the Patlak fit is measured from a blood-pool VOI.
func ExtractTAC(dyn *models.DynamicVolume, mask *models.Mask) ([]float64, error) {
	if mask.NX != dyn.NX || mask.NY != dyn.NY || mask.NZ != dyn.NZ {
		return nil, fmt.Errorf("tac: mask %dx%dx%d does not match dynamic volume %dx%dx%d",
			mask.NX, mask.NY, mask.NZ, dyn.NX, dyn.NY, dyn.NZ)
	}

	sums := make([]float64, dyn.NT)
	count := 0
	for z := 0; z < dyn.NZ; z++ {
		for y := 0; y < dyn.NY; y++ {
			for x := 0; x < dyn.NX; x++ {
				if !mask.At(x, y, z) {
					continue
				}
				count++
				base := dyn.Idx(x, y, z, 0)
				for t := 0; t < dyn.NT; t++ {
					sums[t] += dyn.Data[base+t]
				}
			}
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("tac: mask is empty")
	}

	for t := range sums {
		sums[t] /= float64(count)
	}
	return sums, nil
}

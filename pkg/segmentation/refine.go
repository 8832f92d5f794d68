package segmentation

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"aortakinetics/internal/models"
)

// uptakeThresholdFraction is the fraction of the median in-mask activity
// below which a voxel is considered outside the blood pool.
const uptakeThresholdFraction = 2.0 / 3.0

// RefineWithUptake drops labeled voxels whose measured activity falls below
// two-thirds of the median activity over all labeled voxels. This trims
// partial-volume voxels at the vessel wall that the anatomical mask includes
// but that carry too little tracer to represent blood.
//
// The input volumes are not modified; a new label volume is returned.
func RefineWithUptake(labels *models.LabelVolume, activity *models.Volume) (*models.LabelVolume, error) {
	if labels.NX != activity.NX || labels.NY != activity.NY || labels.NZ != activity.NZ {
		return nil, fmt.Errorf("refine: label volume %dx%dx%d does not match activity frame %dx%dx%d",
			labels.NX, labels.NY, labels.NZ, activity.NX, activity.NY, activity.NZ)
	}

	var inMask []float64
	for i, code := range labels.Data {
		if code != 0 {
			inMask = append(inMask, activity.Data[i])
		}
	}
	if len(inMask) == 0 {
		return nil, fmt.Errorf("refine: label volume contains no labeled voxels")
	}

	median, err := stats.Median(inMask)
	if err != nil {
		return nil, fmt.Errorf("refine: computing median activity: %v", err)
	}
	threshold := uptakeThresholdFraction * median

	out := labels.Clone()
	for i := range out.Data {
		if out.Data[i] != 0 && activity.Data[i] < threshold {
			out.Data[i] = 0
		}
	}
	return out, nil
}

package voi

import (
	"fmt"

	"aortakinetics/internal/models"
	"aortakinetics/pkg/segmentation"
)

// topPermutation swaps the Y and Z axes so the arch, whose principal
// direction is coronal, is traversed slice by slice like the other zones.
var topPermutation = [3]int{0, 2, 1}

// Params holds the VOI extraction parameters.
type Params struct {
	// TThreshold is the cutoff in seconds for averaging early frames into
	// the static activity image used for refinement and placement.
	TThreshold float64

	// VolumeML is the target volume of each zone VOI in milliliters
	VolumeML float64

	// CylinderWidth is the VOI cross-section width in voxels
	CylinderWidth int

	// Verbose enables per-stage progress output
	Verbose bool
}

// Result is the output of a VOI extraction run.
type Result struct {
	// VOIs holds the placed VOIs, one anatomical label code per zone
	VOIs *models.LabelVolume

	// Segments is the refined anatomical segmentation the VOIs were
	// placed in
	Segments *models.LabelVolume

	// Boundaries are the detected axial transition indices
	Boundaries segmentation.BoundaryIndices

	// AchievedML maps each zone to the realized VOI volume in milliliters
	AchievedML map[models.AnatomicalLabel]float64
}

// Extractor derives one calibrated-volume VOI per anatomical aorta zone
// from a binary aorta mask and a dynamic activity series.
//
// The extraction pipeline:
//  1. Average the frames starting before TThreshold into one static frame.
//  2. Partition the mask into the four anatomical zones.
//  3. Refine the zones against the static frame's uptake.
//  4. Place one cylinder per zone, the arch through an axis permutation.
type Extractor struct {
	params *Params
}

// NewExtractor creates an extractor with the provided parameters.
func NewExtractor(params *Params) *Extractor {
	return &Extractor{params: params}
}

// Extract runs the VOI extraction pipeline. The mask and the dynamic volume
// must share spatial dimensions; the affine provides the physical voxel
// spacing (diagonal terms only).
func (e *Extractor) Extract(mask *models.Mask, affine models.Affine, dyn *models.DynamicVolume) (*Result, error) {
	if mask.NX != dyn.NX || mask.NY != dyn.NY || mask.NZ != dyn.NZ {
		return nil, fmt.Errorf("extract: mask %dx%dx%d does not match dynamic volume %dx%dx%d",
			mask.NX, mask.NY, mask.NZ, dyn.NX, dyn.NY, dyn.NZ)
	}

	e.logf("Step 1: Averaging early frames (t < %.0fs)...\n", e.params.TThreshold)
	early, err := AverageEarlyFrames(dyn, e.params.TThreshold)
	if err != nil {
		return nil, fmt.Errorf("extract: averaging early frames: %v", err)
	}

	e.logf("Step 2: Segmenting aorta into anatomical zones...\n")
	segments, bounds, err := segmentation.Segment(mask)
	if err != nil {
		return nil, fmt.Errorf("extract: segmenting aorta: %w", err)
	}
	e.logf("Found arch boundaries: start=%d curve=%d\n", bounds.Start, bounds.Curve)

	e.logf("Step 3: Refining segmentation with tracer uptake...\n")
	segments, err = segmentation.RefineWithUptake(segments, early)
	if err != nil {
		return nil, fmt.Errorf("extract: refining segmentation: %v", err)
	}

	e.logf("Step 4: Placing per-zone VOIs...\n")
	spacing := affine.VoxelSpacing()
	placer := &Placer{VolumeML: e.params.VolumeML, CylinderWidth: e.params.CylinderWidth}

	vois := models.NewLabelVolume(mask.NX, mask.NY, mask.NZ)
	achieved := make(map[models.AnatomicalLabel]float64, len(models.AnatomicalLabels))

	for _, label := range models.AnatomicalLabels {
		zone := segments.MaskOf(label)

		var placement *Placement
		if label == models.Top {
			placement, err = placer.PlacePermuted(zone, early, spacing, topPermutation)
		} else {
			placement, err = placer.Place(zone, early, spacing)
		}
		if err != nil {
			return nil, fmt.Errorf("extract: placing %s VOI: %v", label, err)
		}

		e.logf("Placed %s VOI: %d slices, %.2f ml (target %.2f ml)\n",
			label, placement.Slices, placement.AchievedML, e.params.VolumeML)

		for i, set := range placement.VOI.Data {
			if set {
				vois.Data[i] = uint8(label)
			}
		}
		achieved[label] = placement.AchievedML
	}

	return &Result{
		VOIs:       vois,
		Segments:   segments,
		Boundaries: bounds,
		AchievedML: achieved,
	}, nil
}

func (e *Extractor) logf(format string, args ...interface{}) {
	if e.params.Verbose {
		fmt.Printf(format, args...)
	}
}

// AverageEarlyFrames computes the mean of all frames whose start time lies
// strictly below tThreshold seconds, producing the static activity frame
// used for segmentation refinement and VOI placement.
func AverageEarlyFrames(dyn *models.DynamicVolume, tThreshold float64) (*models.Volume, error) {
	if len(dyn.FrameTimes) != dyn.NT {
		return nil, fmt.Errorf("dynamic volume has %d frames but %d frame times", dyn.NT, len(dyn.FrameTimes))
	}

	// Frame times are ordered, so the early frames are a prefix
	nFrames := 0
	for _, t := range dyn.FrameTimes {
		if t < tThreshold {
			nFrames++
		} else {
			break
		}
	}
	if nFrames == 0 {
		return nil, fmt.Errorf("no frames start before t=%.0fs", tThreshold)
	}

	out := models.NewVolume(dyn.NX, dyn.NY, dyn.NZ)
	for z := 0; z < dyn.NZ; z++ {
		for y := 0; y < dyn.NY; y++ {
			for x := 0; x < dyn.NX; x++ {
				sum := 0.0
				base := dyn.Idx(x, y, z, 0)
				for t := 0; t < nFrames; t++ {
					sum += dyn.Data[base+t]
				}
				out.Set(x, y, z, sum/float64(nFrames))
			}
		}
	}
	return out, nil
}

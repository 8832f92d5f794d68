package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"aortakinetics/internal/models"
	"aortakinetics/internal/niftiio"
	"aortakinetics/pkg/config"
	"aortakinetics/pkg/kinetics"
	"aortakinetics/pkg/voi"
)

// frameSidecar is the acquisition timing sidecar accompanying the dynamic
// volume, in the BIDS PET layout.
type frameSidecar struct {
	FrameTimesStart []float64 `json:"FrameTimesStart"`
	FrameDuration   []float64 `json:"FrameDuration"`
}

func main() {
	// Parse command line arguments
	maskPath := flag.String("mask", "", "Pre-segmented binary aorta mask (NIfTI)")
	petPath := flag.String("pet", "", "Dynamic PET volume (4D NIfTI)")
	timesPath := flag.String("times", "", "JSON sidecar with FrameTimesStart and FrameDuration (seconds)")
	configPath := flag.String("config", "aortakinetics.yaml", "YAML configuration file (defaults are used when absent)")
	outVOIs := flag.String("out-vois", "aorta_vois.nii.gz", "Output labeled VOI volume")
	outSeg := flag.String("out-seg", "aorta_segments.nii.gz", "Output anatomical segmentation volume")
	outSlope := flag.String("out-slope", "patlak_slope.nii.gz", "Output Patlak slope map")
	outIntercept := flag.String("out-intercept", "", "Output Patlak intercept map (empty to skip)")
	volumeML := flag.Float64("volume-ml", 0, "Override target VOI volume in milliliters")
	cylinderWidth := flag.Int("cylinder-width", 0, "Override VOI cross-section width in voxels")
	nFrames := flag.Int("n-frames", 0, "Override trailing frame count for the kinetic fit")
	flag.Parse()

	// Validate inputs
	if *maskPath == "" || *petPath == "" || *timesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *volumeML > 0 {
		cfg.VOI.VolumeML = *volumeML
	}
	if *cylinderWidth > 0 {
		cfg.VOI.CylinderWidth = *cylinderWidth
	}
	if *nFrames > 0 {
		cfg.Patlak.NFramesLinearRegression = *nFrames
	}

	fmt.Println("================================")
	fmt.Println("AORTA VOI EXTRACTION AND VOXEL PATLAK KINETIC MAPPING")
	fmt.Println("================================")

	// Frame timing
	sidecar, err := loadSidecar(*timesPath)
	if err != nil {
		log.Fatalf("Failed to load frame timing sidecar: %v", err)
	}
	midTimes := make([]float64, len(sidecar.FrameTimesStart))
	for i := range midTimes {
		midTimes[i] = sidecar.FrameTimesStart[i] + sidecar.FrameDuration[i]/2
	}

	// Load inputs
	fmt.Println("Loading aorta mask and dynamic PET...")
	mask, affine, err := niftiio.LoadMask(*maskPath)
	if err != nil {
		log.Fatalf("Failed to load aorta mask: %v", err)
	}
	dyn, _, err := niftiio.LoadDynamic(*petPath, sidecar.FrameTimesStart)
	if err != nil {
		log.Fatalf("Failed to load dynamic PET: %v", err)
	}
	fmt.Printf("Loaded %dx%dx%d volume with %d frames\n", dyn.NX, dyn.NY, dyn.NZ, dyn.NT)

	// Per-zone VOI extraction
	startTime := time.Now()
	extractor := voi.NewExtractor(&voi.Params{
		TThreshold:    cfg.Segmentation.TThreshold,
		VolumeML:      cfg.VOI.VolumeML,
		CylinderWidth: cfg.VOI.CylinderWidth,
		Verbose:       cfg.Output.Verbose,
	})
	result, err := extractor.Extract(mask, affine, dyn)
	if err != nil {
		log.Fatalf("VOI extraction failed: %v", err)
	}

	if err := niftiio.SaveLabels(*outVOIs, result.VOIs, affine); err != nil {
		log.Fatalf("Failed to save VOI volume: %v", err)
	}
	if err := niftiio.SaveLabels(*outSeg, result.Segments, affine); err != nil {
		log.Fatalf("Failed to save segmentation volume: %v", err)
	}
	fmt.Printf("VOI extraction completed in %.2f seconds\n", time.Since(startTime).Seconds())

	// Input function from the distal descending VOI, the zone least
	// affected by arch motion and spill-over
	fmt.Println("Extracting input function...")
	inputFun, err := kinetics.ExtractTAC(dyn, result.VOIs.MaskOf(models.DescendingBottom))
	if err != nil {
		log.Fatalf("Failed to extract input function: %v", err)
	}

	// Voxel Patlak
	fmt.Println("Running voxel Patlak analysis...")
	startTime = time.Now()
	fitter := &kinetics.Fitter{
		GaussianFilterSize: cfg.Patlak.GaussianFilterSize,
		NFrames:            cfg.Patlak.NFramesLinearRegression,
		ChunkSize:          cfg.Patlak.AxialChunkSize,
	}
	slopes, intercepts, err := fitter.Fit(dyn, inputFun, midTimes)
	if err != nil {
		log.Fatalf("Patlak analysis failed: %v", err)
	}
	fmt.Printf("Patlak analysis completed in %.2f seconds\n", time.Since(startTime).Seconds())

	if err := niftiio.SaveVolume(*outSlope, slopes, affine); err != nil {
		log.Fatalf("Failed to save slope map: %v", err)
	}
	if *outIntercept != "" {
		if err := niftiio.SaveVolume(*outIntercept, intercepts, affine); err != nil {
			log.Fatalf("Failed to save intercept map: %v", err)
		}
	}

	fmt.Println("\nAchieved VOI volumes:")
	for _, label := range models.AnatomicalLabels {
		fmt.Printf("  %-18s %.2f ml (target %.2f ml)\n", label, result.AchievedML[label], cfg.VOI.VolumeML)
	}
	fmt.Printf("\nOutputs saved: %s, %s, %s\n", *outVOIs, *outSeg, *outSlope)
}

// loadSidecar reads the frame timing sidecar and checks it is consistent.
func loadSidecar(path string) (*frameSidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc frameSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}
	if len(sc.FrameTimesStart) == 0 {
		return nil, fmt.Errorf("%s contains no FrameTimesStart", path)
	}
	if len(sc.FrameTimesStart) != len(sc.FrameDuration) {
		return nil, fmt.Errorf("%s has %d frame times but %d durations", path, len(sc.FrameTimesStart), len(sc.FrameDuration))
	}
	return &sc, nil
}

package kinetics

import (
	"math"
	"testing"

	"aortakinetics/internal/models"
)

// syntheticPatlakVolume builds a dynamic volume whose normalized
// time-activity relationship is exactly linear: with a constant unit input
// function the Patlak abscissa equals the frame time in minutes, so the
// voxel value k*t+c fits slope k and intercept c exactly.
func syntheticPatlakVolume(nx, ny, nz, nt int, slope func(x, y, z int) float64, intercept float64) (*models.DynamicVolume, []float64, []float64) {
	times := make([]float64, nt)
	inputFun := make([]float64, nt)
	for t := 0; t < nt; t++ {
		times[t] = float64(t) * 60 // one frame per minute
		inputFun[t] = 1.0
	}

	dyn := models.NewDynamicVolume(nx, ny, nz, nt, times)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				k := slope(x, y, z)
				for t := 0; t < nt; t++ {
					dyn.Set(x, y, z, t, k*float64(t)+intercept)
				}
			}
		}
	}
	return dyn, inputFun, times
}

// TestFitRecoversKnownKinetics verifies that the fitter recovers per-voxel
// slope and intercept from exactly linear synthetic data.
func TestFitRecoversKnownKinetics(t *testing.T) {
	slope := func(x, y, z int) float64 {
		return 0.01 * float64(1+x+2*y+3*z)
	}
	const intercept = 0.25
	dyn, inputFun, times := syntheticPatlakVolume(4, 3, 9, 12, slope, intercept)

	fitter := &Fitter{NFrames: 10, ChunkSize: 4}
	slopes, intercepts, err := fitter.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for z := 0; z < dyn.NZ; z++ {
		for y := 0; y < dyn.NY; y++ {
			for x := 0; x < dyn.NX; x++ {
				want := slope(x, y, z)
				got := slopes.At(x, y, z)
				if math.Abs(got-want) > 1e-9 {
					t.Fatalf("slope at (%d,%d,%d) = %g, want %g", x, y, z, got, want)
				}
				if math.Abs(intercepts.At(x, y, z)-intercept) > 1e-9 {
					t.Fatalf("intercept at (%d,%d,%d) = %g, want %g", x, y, z, intercepts.At(x, y, z), intercept)
				}
			}
		}
	}
}

// TestFitChunkingInvariance verifies that the chunk size does not change
// the result.
func TestFitChunkingInvariance(t *testing.T) {
	slope := func(x, y, z int) float64 {
		return 0.005 * float64(1+x*y+z)
	}
	dyn, inputFun, times := syntheticPatlakVolume(3, 3, 11, 12, slope, 0.1)

	whole := &Fitter{NFrames: 10, ChunkSize: 11}
	chunked := &Fitter{NFrames: 10, ChunkSize: 3}

	s1, _, err := whole.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("whole-volume fit failed: %v", err)
	}
	s2, _, err := chunked.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("chunked fit failed: %v", err)
	}

	for i := range s1.Data {
		if math.Abs(s1.Data[i]-s2.Data[i]) > 1e-12 {
			t.Fatalf("slope maps differ at index %d: %g vs %g", i, s1.Data[i], s2.Data[i])
		}
	}
}

// TestFitChunkingInvarianceWithSmoothing verifies that with smoothing
// enabled on spatially varying data, the border carried by each chunk makes
// the streamed result match a whole-volume pass.
func TestFitChunkingInvarianceWithSmoothing(t *testing.T) {
	slope := func(x, y, z int) float64 {
		return 0.004 * float64(1+x+y*z)
	}
	dyn, inputFun, times := syntheticPatlakVolume(4, 4, 17, 12, slope, 0.2)

	whole := &Fitter{GaussianFilterSize: 1, NFrames: 10, ChunkSize: 17}
	chunked := &Fitter{GaussianFilterSize: 1, NFrames: 10, ChunkSize: 5}

	s1, i1, err := whole.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("whole-volume fit failed: %v", err)
	}
	s2, i2, err := chunked.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("chunked fit failed: %v", err)
	}

	for i := range s1.Data {
		if math.Abs(s1.Data[i]-s2.Data[i]) > 1e-12 {
			t.Fatalf("smoothed slope maps differ at index %d: %g vs %g", i, s1.Data[i], s2.Data[i])
		}
		if math.Abs(i1.Data[i]-i2.Data[i]) > 1e-12 {
			t.Fatalf("smoothed intercept maps differ at index %d: %g vs %g", i, i1.Data[i], i2.Data[i])
		}
	}
}

// TestFitWithSmoothing verifies that Gaussian smoothing of spatially
// constant data is an identity and the fit still recovers the kinetics,
// exercising the border bookkeeping of the streaming pass.
func TestFitWithSmoothing(t *testing.T) {
	const k = 0.042
	slope := func(x, y, z int) float64 { return k }
	dyn, inputFun, times := syntheticPatlakVolume(5, 5, 13, 12, slope, 0.3)

	fitter := &Fitter{GaussianFilterSize: 1, NFrames: 10, ChunkSize: 4}
	slopes, _, err := fitter.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for i, got := range slopes.Data {
		if math.Abs(got-k) > 1e-9 {
			t.Fatalf("slope at index %d = %g, want %g", i, got, k)
		}
	}
}

// TestFitPropagatesIndeterminate verifies that a zero input-function sample
// inside the regression window yields NaN in the output rather than an
// error.
func TestFitPropagatesIndeterminate(t *testing.T) {
	dyn, inputFun, times := syntheticPatlakVolume(2, 2, 4, 12, func(x, y, z int) float64 { return 0.01 }, 0)
	inputFun[11] = 0

	fitter := &Fitter{NFrames: 10, ChunkSize: 4}
	slopes, _, err := fitter.Fit(dyn, inputFun, times)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !math.IsNaN(slopes.At(0, 0, 0)) {
		t.Errorf("slope = %g, want NaN for indeterminate normalization", slopes.At(0, 0, 0))
	}
}

// TestFitValidation verifies the argument checks.
func TestFitValidation(t *testing.T) {
	dyn, inputFun, times := syntheticPatlakVolume(2, 2, 2, 12, func(x, y, z int) float64 { return 0 }, 0)

	t.Run("InputFunctionLength", func(t *testing.T) {
		fitter := &Fitter{NFrames: 10, ChunkSize: 2}
		if _, _, err := fitter.Fit(dyn, inputFun[:5], times); err == nil {
			t.Error("short input function accepted")
		}
	})
	t.Run("FrameTimesLength", func(t *testing.T) {
		fitter := &Fitter{NFrames: 10, ChunkSize: 2}
		if _, _, err := fitter.Fit(dyn, inputFun, times[:5]); err == nil {
			t.Error("short frame times accepted")
		}
	})
	t.Run("ChunkSize", func(t *testing.T) {
		fitter := &Fitter{NFrames: 10}
		if _, _, err := fitter.Fit(dyn, inputFun, times); err == nil {
			t.Error("zero chunk size accepted")
		}
	})
}

// TestCumulativeSimpson verifies the integrator against an exactly
// representable quadratic on a non-uniform grid.
func TestCumulativeSimpson(t *testing.T) {
	x := []float64{0, 0.5, 1.2, 2.0, 3.7, 4.1, 6.0}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 3*xi*xi - 2*xi + 1
	}

	got := cumulativeSimpson(y, x)
	if got[0] != 0 {
		t.Errorf("cumulative integral starts at %g, want 0", got[0])
	}
	for i, xi := range x {
		want := xi*xi*xi - xi*xi + xi // antiderivative, zero at x=0
		if math.Abs(got[i]-want) > 1e-9 {
			t.Errorf("integral up to x=%g: got %g, want %g", xi, got[i], want)
		}
	}
}

// TestCumulativeSimpsonTwoPoints verifies the trapezoid fallback.
func TestCumulativeSimpsonTwoPoints(t *testing.T) {
	got := cumulativeSimpson([]float64{1, 3}, []float64{0, 2})
	if got[1] != 4 {
		t.Errorf("two-point integral = %g, want 4", got[1])
	}
}

// TestExtractTAC verifies the masked mean time-activity curve.
func TestExtractTAC(t *testing.T) {
	times := []float64{0, 60, 120}
	dyn := models.NewDynamicVolume(2, 2, 1, 3, times)
	mask := models.NewMask(2, 2, 1)

	// Two masked voxels with different time courses
	mask.Set(0, 0, 0, true)
	mask.Set(1, 1, 0, true)
	for t := 0; t < 3; t++ {
		dyn.Set(0, 0, 0, t, float64(t))
		dyn.Set(1, 1, 0, t, float64(3*t))
		dyn.Set(1, 0, 0, t, 100) // outside the mask, must not contribute
	}

	tac, err := ExtractTAC(dyn, mask)
	if err != nil {
		t.Fatalf("ExtractTAC failed: %v", err)
	}
	want := []float64{0, 2, 4}
	for i := range want {
		if math.Abs(tac[i]-want[i]) > 1e-12 {
			t.Errorf("tac[%d] = %g, want %g", i, tac[i], want[i])
		}
	}

	t.Run("EmptyMask", func(t *testing.T) {
		if _, err := ExtractTAC(dyn, models.NewMask(2, 2, 1)); err == nil {
			t.Error("empty mask accepted")
		}
	})
}

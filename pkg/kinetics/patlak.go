package kinetics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"aortakinetics/internal/models"
)

// Fitter computes per-voxel Patlak slope and intercept maps from a dynamic
// volume and an input function. Under the Patlak model, once tracer
// trapping is effectively irreversible the normalized time-activity
// relationship becomes linear and its slope estimates the influx constant.
//
// The volume is streamed through axial chunks; when spatial smoothing is
// enabled each chunk carries a border of 3 sigma so the filter is fully
// resolved before the border is trimmed, and no voxel is ever written twice.
type Fitter struct {
	// GaussianFilterSize is the isotropic spatial smoothing sigma in
	// voxels, applied to the three spatial axes only. 0 disables
	// smoothing.
	GaussianFilterSize float64

	// NFrames is the number of trailing frames used for the regression
	NFrames int

	// ChunkSize is the interior axial chunk size of the streaming pass
	ChunkSize int
}

// Fit runs the streaming Patlak analysis and returns the slope and
// intercept maps, each with the spatial shape of one frame.
//
// The input function and frameTimes (seconds, typically frame mid-times)
// must be sampled one-to-one with the dynamic volume's time axis. Near-zero
// input-function samples make the normalization indeterminate; the
// resulting NaN values propagate into the affected voxels of the output
// maps rather than aborting the fit.
func (f *Fitter) Fit(dyn *models.DynamicVolume, inputFun, frameTimes []float64) (slopes, intercepts *models.Volume, err error) {
	if len(inputFun) != dyn.NT {
		return nil, nil, fmt.Errorf("patlak: input function has %d samples for %d frames", len(inputFun), dyn.NT)
	}
	if len(frameTimes) != dyn.NT {
		return nil, nil, fmt.Errorf("patlak: got %d frame times for %d frames", len(frameTimes), dyn.NT)
	}
	if dyn.NT < 2 {
		return nil, nil, fmt.Errorf("patlak: need at least 2 frames, got %d", dyn.NT)
	}
	if f.ChunkSize <= 0 {
		return nil, nil, fmt.Errorf("patlak: chunk size must be positive, got %d", f.ChunkSize)
	}

	nFrames := f.NFrames
	if nFrames > dyn.NT {
		nFrames = dyn.NT
	}
	if nFrames < 2 {
		return nil, nil, fmt.Errorf("patlak: need at least 2 regression frames, got %d", nFrames)
	}

	// Normalized independent variable: cumulative integral of the input
	// function over minutes, divided pointwise by the input function.
	// Near-zero samples yield NaN/Inf that carry through to the output.
	tMinutes := make([]float64, dyn.NT)
	for i, t := range frameTimes {
		tMinutes[i] = t / 60
	}
	cum := cumulativeSimpson(inputFun, tMinutes)
	xs := make([]float64, nFrames)
	tail := dyn.NT - nFrames
	for i := 0; i < nFrames; i++ {
		xs[i] = cum[tail+i] / inputFun[tail+i]
	}

	var kernel []float64
	border := 0
	if f.GaussianFilterSize > 0 {
		border = int(math.Ceil(3 * f.GaussianFilterSize))
		kernel = gaussianKernel(f.GaussianFilterSize, border)
	}

	it, err := NewChunkedWindowIterator(dyn.NZ, f.ChunkSize, border)
	if err != nil {
		return nil, nil, fmt.Errorf("patlak: %v", err)
	}

	slopes = models.NewVolume(dyn.NX, dyn.NY, dyn.NZ)
	intercepts = models.NewVolume(dyn.NX, dyn.NY, dyn.NZ)
	ys := make([]float64, nFrames)

	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}

		// Extract the read window restricted to the trailing frames
		nzChunk := chunk.ReadEnd - chunk.ReadStart
		buf := extractTrailing(dyn, chunk.ReadStart, chunk.ReadEnd, nFrames)

		// Smooth the full window, border included, so edge effects are
		// resolved before the border is trimmed
		if kernel != nil {
			smoothSpatial(buf, nzChunk, dyn.NY, dyn.NX, nFrames, kernel)
		}

		// Fit the valid interior voxel by voxel
		for zl := chunk.ValidStart; zl < chunk.ValidEnd; zl++ {
			zOut := chunk.WriteStart + (zl - chunk.ValidStart)
			for y := 0; y < dyn.NY; y++ {
				for x := 0; x < dyn.NX; x++ {
					base := (((zl*dyn.NY)+y)*dyn.NX + x) * nFrames
					for k := 0; k < nFrames; k++ {
						ys[k] = buf[base+k] / inputFun[tail+k]
					}
					intercept, slope := stat.LinearRegression(xs, ys, nil, false)
					slopes.Set(x, y, zOut, slope)
					intercepts.Set(x, y, zOut, intercept)
				}
			}
		}
	}

	return slopes, intercepts, nil
}

// extractTrailing copies the axial range [zStart, zEnd) of the dynamic
// volume restricted to its last nFrames frames into a contiguous buffer
// with the same sample order (time fastest).
func extractTrailing(dyn *models.DynamicVolume, zStart, zEnd, nFrames int) []float64 {
	nVox := (zEnd - zStart) * dyn.NY * dyn.NX
	tail := dyn.NT - nFrames
	buf := make([]float64, nVox*nFrames)
	src := zStart * dyn.NY * dyn.NX * dyn.NT
	for v := 0; v < nVox; v++ {
		copy(buf[v*nFrames:(v+1)*nFrames], dyn.Data[src+v*dyn.NT+tail:src+v*dyn.NT+dyn.NT])
	}
	return buf
}

// gaussianKernel returns a normalized 1D Gaussian of the given sigma,
// truncated at the given radius.
func gaussianKernel(sigma float64, radius int) []float64 {
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smoothSpatial applies the separable kernel along the three spatial axes
// of the buffer, never across time. The buffer is laid out time-fastest
// with dimensions (nz, ny, nx, nt). Lines are reflected at their ends;
// interior chunk edges carry a border at least as wide as the kernel
// radius, so the reflection never leaks into the valid region.
func smoothSpatial(buf []float64, nz, ny, nx, nt int, kernel []float64) {
	maxDim := nx
	if ny > maxDim {
		maxDim = ny
	}
	if nz > maxDim {
		maxDim = nz
	}
	line := make([]float64, maxDim)
	conv := make([]float64, maxDim)

	idx := func(z, y, x, t int) int {
		return ((z*ny+y)*nx+x)*nt + t
	}

	// X axis
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for t := 0; t < nt; t++ {
				for x := 0; x < nx; x++ {
					line[x] = buf[idx(z, y, x, t)]
				}
				convolveReflect(line[:nx], kernel, conv[:nx])
				for x := 0; x < nx; x++ {
					buf[idx(z, y, x, t)] = conv[x]
				}
			}
		}
	}

	// Y axis
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			for t := 0; t < nt; t++ {
				for y := 0; y < ny; y++ {
					line[y] = buf[idx(z, y, x, t)]
				}
				convolveReflect(line[:ny], kernel, conv[:ny])
				for y := 0; y < ny; y++ {
					buf[idx(z, y, x, t)] = conv[y]
				}
			}
		}
	}

	// Z axis (the chunked axis, within the read window)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			for t := 0; t < nt; t++ {
				for z := 0; z < nz; z++ {
					line[z] = buf[idx(z, y, x, t)]
				}
				convolveReflect(line[:nz], kernel, conv[:nz])
				for z := 0; z < nz; z++ {
					buf[idx(z, y, x, t)] = conv[z]
				}
			}
		}
	}
}

// convolveReflect convolves a line with the kernel, reflecting the line at
// both ends.
func convolveReflect(line, kernel, out []float64) {
	n := len(line)
	radius := len(kernel) / 2
	for i := 0; i < n; i++ {
		sum := 0.0
		for k := -radius; k <= radius; k++ {
			j := i + k
			for j < 0 || j >= n {
				if j < 0 {
					j = -j - 1
				}
				if j >= n {
					j = 2*n - j - 1
				}
			}
			sum += line[j] * kernel[k+radius]
		}
		out[i] = sum
	}
}

// cumulativeSimpson integrates y over the sample points x cumulatively,
// fitting a quadratic through each sample and its neighbors. The first
// entry is 0. With only two samples the single interval degenerates to the
// trapezoid rule.
func cumulativeSimpson(y, x []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	if n == 2 {
		out[1] = (x[1] - x[0]) * (y[0] + y[1]) / 2
		return out
	}

	// First interval from the parabola through the first three samples
	out[1] = simpsonLeft(x[1]-x[0], x[2]-x[1], y[0], y[1], y[2])

	// Each later interval from the parabola ending at its right endpoint
	for i := 2; i < n; i++ {
		out[i] = out[i-1] + simpsonRight(x[i-1]-x[i-2], x[i]-x[i-1], y[i-2], y[i-1], y[i])
	}
	return out
}

// simpsonLeft integrates the quadratic through three samples spaced a and b
// apart over the first of the two intervals.
func simpsonLeft(a, b, f0, f1, f2 float64) float64 {
	return f0*a*(2*a+3*b)/(6*(a+b)) +
		f1*a*(a+3*b)/(6*b) -
		f2*a*a*a/(6*b*(a+b))
}

// simpsonRight integrates the quadratic through three samples spaced a and
// b apart over the second of the two intervals.
func simpsonRight(a, b, f0, f1, f2 float64) float64 {
	return f2*b*(2*b+3*a)/(6*(a+b)) +
		f1*b*(b+3*a)/(6*a) -
		f0*b*b*b/(6*a*(a+b))
}

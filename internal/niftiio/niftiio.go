// Package niftiio is the NIfTI-1 file boundary of the pipeline: it loads
// mask and dynamic activity volumes through the nifti library and writes
// result volumes with a minimal single-file (.nii / .nii.gz) writer.
//
// Voxel spacing is taken from the header pixdim values, which form the
// diagonal of the voxel-to-world affine. Shear and rotation terms are
// ignored.
package niftiio

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/henghuang/nifti"

	"aortakinetics/internal/models"
)

// loadImage consumes panics emitted by the nifti library on missing or
// malformed files and turns them into recoverable errors.
func loadImage(path string, rdata bool) (img nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("niftiio: loading %s: %v", path, panicErr)
		}
	}()

	img.LoadImage(path, rdata)

	return
}

// loadHeader consumes panics emitted by the nifti library on missing or
// malformed files and turns them into recoverable errors.
func loadHeader(path string) (hdr nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("niftiio: loading header of %s: %v", path, panicErr)
		}
	}()

	hdr.LoadHeader(path)

	return
}

// LoadVolume reads a 3D scalar volume (the first frame of a 4D file) and
// its diagonal affine.
func LoadVolume(path string) (*models.Volume, models.Affine, error) {
	img, err := loadImage(path, true)
	if err != nil {
		return nil, models.Affine{}, err
	}

	dims := img.GetDims()
	nx, ny, nz := dims[0], dims[1], dims[2]
	if nx == 0 || ny == 0 || nz == 0 {
		return nil, models.Affine{}, fmt.Errorf("niftiio: %s has empty dimensions %v", path, dims)
	}

	out := models.NewVolume(nx, ny, nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out.Set(x, y, z, float64(img.GetAt(x, y, z, 0)))
			}
		}
	}

	affine, err := loadAffine(path)
	if err != nil {
		return nil, models.Affine{}, err
	}
	return out, affine, nil
}

// LoadMask reads a 3D binary mask: voxels above 0.5 are inside.
func LoadMask(path string) (*models.Mask, models.Affine, error) {
	vol, affine, err := LoadVolume(path)
	if err != nil {
		return nil, models.Affine{}, err
	}
	mask := models.NewMask(vol.NX, vol.NY, vol.NZ)
	for i, v := range vol.Data {
		mask.Data[i] = v > 0.5
	}
	return mask, affine, nil
}

// LoadDynamic reads a 4D dynamic volume; frameTimes (seconds, one per
// frame) come from the acquisition sidecar, not the NIfTI file.
func LoadDynamic(path string, frameTimes []float64) (*models.DynamicVolume, models.Affine, error) {
	img, err := loadImage(path, true)
	if err != nil {
		return nil, models.Affine{}, err
	}

	dims := img.GetDims()
	nx, ny, nz, nt := dims[0], dims[1], dims[2], dims[3]
	if nx == 0 || ny == 0 || nz == 0 || nt == 0 {
		return nil, models.Affine{}, fmt.Errorf("niftiio: %s has empty dimensions %v", path, dims)
	}
	if len(frameTimes) != nt {
		return nil, models.Affine{}, fmt.Errorf("niftiio: %s has %d frames but %d frame times were supplied", path, nt, len(frameTimes))
	}

	out := models.NewDynamicVolume(nx, ny, nz, nt, frameTimes)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				for t := 0; t < nt; t++ {
					out.Set(x, y, z, t, float64(img.GetAt(x, y, z, t)))
				}
			}
		}
	}

	affine, err := loadAffine(path)
	if err != nil {
		return nil, models.Affine{}, err
	}
	return out, affine, nil
}

// loadAffine builds a diagonal affine from the header voxel spacings.
func loadAffine(path string) (models.Affine, error) {
	hdr, err := loadHeader(path)
	if err != nil {
		return models.Affine{}, err
	}
	sx := float64(hdr.Pixdim[1])
	sy := float64(hdr.Pixdim[2])
	sz := float64(hdr.Pixdim[3])
	if sx == 0 || sy == 0 || sz == 0 {
		return models.Affine{}, fmt.Errorf("niftiio: %s has zero voxel spacing %g x %g x %g", path, sx, sy, sz)
	}
	return models.DiagonalAffine(sx, sy, sz), nil
}

// NIfTI-1 datatype codes
const (
	dtUint8   int16 = 2
	dtFloat32 int16 = 16
)

// nifti1Header is the fixed 348-byte NIfTI-1 header layout.
type nifti1Header struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// newHeader fills a single-file NIfTI-1 header for a 3D volume.
func newHeader(nx, ny, nz int, datatype, bitpix int16, affine models.Affine) nifti1Header {
	hdr := nifti1Header{
		SizeofHdr: 348,
		Regular:   'r',
		Datatype:  datatype,
		Bitpix:    bitpix,
		VoxOffset: 352,
		SclSlope:  1,
		XyztUnits: 10, // mm and seconds
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	spacing := affine.VoxelSpacing()
	hdr.Pixdim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 0, 0, 0, 0}
	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(affine[0][j])
		hdr.SrowY[j] = float32(affine[1][j])
		hdr.SrowZ[j] = float32(affine[2][j])
	}
	copy(hdr.Descrip[:], "aortakinetics")
	return hdr
}

// SaveVolume writes a real-valued volume as float32 NIfTI-1. Paths ending
// in .gz are gzip-compressed.
func SaveVolume(path string, vol *models.Volume, affine models.Affine) error {
	data := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		data[i] = float32(v)
	}
	hdr := newHeader(vol.NX, vol.NY, vol.NZ, dtFloat32, 32, affine)
	return writeNifti(path, hdr, data)
}

// SaveLabels writes an integer-labeled volume as uint8 NIfTI-1.
func SaveLabels(path string, labels *models.LabelVolume, affine models.Affine) error {
	hdr := newHeader(labels.NX, labels.NY, labels.NZ, dtUint8, 8, affine)
	return writeNifti(path, hdr, labels.Data)
}

// writeNifti emits header, the 4-byte extension flag, and the data block.
func writeNifti(path string, hdr nifti1Header, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("niftiio: creating %s: %v", path, err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		f.Close()
		return fmt.Errorf("niftiio: writing header of %s: %v", path, err)
	}
	// No header extensions
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		f.Close()
		return fmt.Errorf("niftiio: writing extender of %s: %v", path, err)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		f.Close()
		return fmt.Errorf("niftiio: writing data of %s: %v", path, err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("niftiio: closing gzip stream of %s: %v", path, err)
		}
	}
	return f.Close()
}

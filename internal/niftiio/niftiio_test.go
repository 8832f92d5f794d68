package niftiio

import (
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"aortakinetics/internal/models"
)

// readHeader reads back the fixed NIfTI-1 header of a file written by this
// package, transparently decompressing .gz files.
func readHeader(t *testing.T, path string) (nifti1Header, []byte) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()

	var hdr nifti1Header
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		defer gz.Close()
		if err := binary.Read(gz, binary.LittleEndian, &hdr); err != nil {
			t.Fatalf("reading header: %v", err)
		}
		rest := make([]byte, 4)
		if _, err := gz.Read(rest); err != nil {
			t.Fatalf("reading extender: %v", err)
		}
		return hdr, rest
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	rest := make([]byte, 4)
	if _, err := f.Read(rest); err != nil {
		t.Fatalf("reading extender: %v", err)
	}
	return hdr, rest
}

// TestSaveVolumeHeader verifies the written header fields and data size.
func TestSaveVolumeHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slope.nii")

	vol := models.NewVolume(3, 4, 5)
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	affine := models.DiagonalAffine(1.5, 2, 2.5)

	if err := SaveVolume(path, vol, affine); err != nil {
		t.Fatalf("SaveVolume failed: %v", err)
	}

	hdr, _ := readHeader(t, path)
	if hdr.SizeofHdr != 348 {
		t.Errorf("sizeof_hdr = %d, want 348", hdr.SizeofHdr)
	}
	if hdr.Magic != [4]byte{'n', '+', '1', 0} {
		t.Errorf("magic = %q", hdr.Magic)
	}
	if hdr.Dim != [8]int16{3, 3, 4, 5, 1, 1, 1, 1} {
		t.Errorf("dim = %v", hdr.Dim)
	}
	if hdr.Datatype != dtFloat32 || hdr.Bitpix != 32 {
		t.Errorf("datatype/bitpix = %d/%d, want %d/32", hdr.Datatype, hdr.Bitpix, dtFloat32)
	}
	if hdr.Pixdim[1] != 1.5 || hdr.Pixdim[2] != 2 || hdr.Pixdim[3] != 2.5 {
		t.Errorf("pixdim = %v", hdr.Pixdim[:4])
	}
	if hdr.VoxOffset != 352 {
		t.Errorf("vox_offset = %g, want 352", hdr.VoxOffset)
	}
	if hdr.SrowX[0] != 1.5 || hdr.SrowY[1] != 2 || hdr.SrowZ[2] != 2.5 {
		t.Errorf("srow diagonal = %g %g %g", hdr.SrowX[0], hdr.SrowY[1], hdr.SrowZ[2])
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	want := int64(352 + 4*3*4*5)
	if info.Size() != want {
		t.Errorf("file size = %d, want %d", info.Size(), want)
	}
}

// TestLoadMissingFile verifies that loading a nonexistent path returns an
// error instead of letting the nifti library's panic escape.
func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.nii.gz")

	if _, _, err := LoadVolume(path); err == nil {
		t.Error("LoadVolume succeeded on a nonexistent path")
	}
	if _, _, err := LoadMask(path); err == nil {
		t.Error("LoadMask succeeded on a nonexistent path")
	}
	if _, _, err := LoadDynamic(path, []float64{0}); err == nil {
		t.Error("LoadDynamic succeeded on a nonexistent path")
	}
}

// TestLoadMalformedFile verifies that a file too short to hold a NIfTI-1
// header is rejected with an error.
func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.nii")
	if err := os.WriteFile(path, []byte("not a nifti volume"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := LoadVolume(path); err == nil {
		t.Error("LoadVolume succeeded on a malformed file")
	}
}

// TestSaveLabelsGzip verifies the uint8 datatype and gzip output.
func TestSaveLabelsGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vois.nii.gz")

	labels := models.NewLabelVolume(2, 2, 2)
	labels.Set(1, 1, 1, models.Top)

	if err := SaveLabels(path, labels, models.DiagonalAffine(2, 2, 2)); err != nil {
		t.Fatalf("SaveLabels failed: %v", err)
	}

	hdr, _ := readHeader(t, path)
	if hdr.Datatype != dtUint8 || hdr.Bitpix != 8 {
		t.Errorf("datatype/bitpix = %d/%d, want %d/8", hdr.Datatype, hdr.Bitpix, dtUint8)
	}
	if hdr.Dim != [8]int16{3, 2, 2, 2, 1, 1, 1, 1} {
		t.Errorf("dim = %v", hdr.Dim)
	}
}

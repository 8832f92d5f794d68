// Package kinetics fits a per-voxel Patlak model over a dynamic activity
// series, streaming the volume through overlapping axial chunks so that
// spatial smoothing and the regression run within a bounded memory
// footprint.
package kinetics

import "fmt"

// Chunk describes one streaming step along the chunked axis. ReadStart and
// ReadEnd bound the input window to extract, including the filter context;
// ValidStart and ValidEnd bound the true interior within that window (the
// border to trim away); WriteStart and WriteSize address the globally
// disjoint output range this step is responsible for.
type Chunk struct {
	ReadStart, ReadEnd    int
	ValidStart, ValidEnd  int
	WriteStart, WriteSize int
}

// ChunkedWindowIterator produces overlapping read windows and disjoint
// write ranges along one axis of length L, with interior chunks of size C
// and a context border of size B on each side.
//
// Invariants: the write ranges of all steps partition [0, L) exactly, with
// no gaps and no overlaps; read windows never address an index outside
// [0, L) (the border is clipped at the array ends, not padded); consecutive
// read windows overlap by at most 2B.
type ChunkedWindowIterator struct {
	length    int
	chunkSize int
	border    int
	step      int
}

// NewChunkedWindowIterator creates an iterator over an axis of the given
// length. chunkSize is the interior chunk size C; border is the context
// radius B required by a subsequent filtering operator (0 disables
// borders).
func NewChunkedWindowIterator(length, chunkSize, border int) (*ChunkedWindowIterator, error) {
	if length < 0 {
		return nil, fmt.Errorf("chunked iterator: negative axis length %d", length)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunked iterator: chunk size must be positive, got %d", chunkSize)
	}
	if border < 0 {
		return nil, fmt.Errorf("chunked iterator: negative border size %d", border)
	}
	return &ChunkedWindowIterator{
		length:    length,
		chunkSize: chunkSize,
		border:    border,
	}, nil
}

// Len returns the total number of steps.
func (it *ChunkedWindowIterator) Len() int {
	return (it.length + it.chunkSize - 1) / it.chunkSize
}

// Next returns the next chunk descriptor. ok is false once the axis is
// exhausted.
func (it *ChunkedWindowIterator) Next() (c Chunk, ok bool) {
	writeStart := it.step * it.chunkSize
	if writeStart >= it.length {
		return Chunk{}, false
	}
	it.step++

	writeEnd := writeStart + it.chunkSize
	if writeEnd > it.length {
		writeEnd = it.length
	}

	readStart := writeStart - it.border
	if readStart < 0 {
		readStart = 0
	}
	readEnd := writeStart + it.chunkSize + it.border
	if readEnd > it.length {
		readEnd = it.length
	}

	// The available leading border may be narrower than B near the array
	// start; the valid interior begins past whatever border there is.
	validStart := writeStart - readStart
	validEnd := validStart + (writeEnd - writeStart)

	return Chunk{
		ReadStart:  readStart,
		ReadEnd:    readEnd,
		ValidStart: validStart,
		ValidEnd:   validEnd,
		WriteStart: writeStart,
		WriteSize:  writeEnd - writeStart,
	}, true
}

package kinetics

import "testing"

// TestChunkPartition verifies that for a range of axis lengths, chunk sizes
// and border sizes, the write ranges partition [0, L) exactly and read
// windows never leave the array.
func TestChunkPartition(t *testing.T) {
	lengths := []int{1, 2, 5, 8, 9, 16, 17, 31, 64, 100}
	chunkSizes := []int{1, 2, 3, 8, 16, 100}
	borders := []int{0, 1, 3, 7, 50}

	for _, l := range lengths {
		for _, c := range chunkSizes {
			for _, b := range borders {
				it, err := NewChunkedWindowIterator(l, c, b)
				if err != nil {
					t.Fatalf("NewChunkedWindowIterator(%d, %d, %d): %v", l, c, b, err)
				}

				covered := make([]int, l)
				steps := 0
				for {
					chunk, ok := it.Next()
					if !ok {
						break
					}
					steps++

					if chunk.ReadStart < 0 || chunk.ReadEnd > l {
						t.Errorf("L=%d C=%d B=%d: read window [%d,%d) outside [0,%d)",
							l, c, b, chunk.ReadStart, chunk.ReadEnd, l)
					}
					if chunk.WriteSize != chunk.ValidEnd-chunk.ValidStart {
						t.Errorf("L=%d C=%d B=%d: write size %d != valid extent %d",
							l, c, b, chunk.WriteSize, chunk.ValidEnd-chunk.ValidStart)
					}

					// The valid interior, mapped to global indices, must
					// coincide with the write range
					for i := 0; i < chunk.WriteSize; i++ {
						global := chunk.ReadStart + chunk.ValidStart + i
						if global != chunk.WriteStart+i {
							t.Fatalf("L=%d C=%d B=%d: valid index %d maps to %d, want %d",
								l, c, b, i, global, chunk.WriteStart+i)
						}
						covered[chunk.WriteStart+i]++
					}
				}

				if steps != it.Len() {
					t.Errorf("L=%d C=%d B=%d: took %d steps, Len() says %d", l, c, b, steps, it.Len())
				}
				for i, n := range covered {
					if n != 1 {
						t.Fatalf("L=%d C=%d B=%d: output index %d written %d times", l, c, b, i, n)
					}
				}
			}
		}
	}
}

// TestChunkOverlap verifies that consecutive read windows overlap by at
// most twice the border size.
func TestChunkOverlap(t *testing.T) {
	it, err := NewChunkedWindowIterator(100, 10, 4)
	if err != nil {
		t.Fatal(err)
	}

	prevEnd := -1
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		if prevEnd >= 0 {
			overlap := prevEnd - chunk.ReadStart
			if overlap > 8 {
				t.Errorf("read windows overlap by %d, want at most 8", overlap)
			}
			if overlap < 0 {
				t.Errorf("gap of %d between consecutive read windows", -overlap)
			}
		}
		prevEnd = chunk.ReadEnd
	}
}

// TestChunkBorderDisabled verifies that a zero border yields read windows
// identical to the write ranges.
func TestChunkBorderDisabled(t *testing.T) {
	it, err := NewChunkedWindowIterator(20, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		if chunk.ReadStart != chunk.WriteStart || chunk.ReadEnd != chunk.WriteStart+chunk.WriteSize {
			t.Errorf("zero border: read window [%d,%d) differs from write range [%d,%d)",
				chunk.ReadStart, chunk.ReadEnd, chunk.WriteStart, chunk.WriteStart+chunk.WriteSize)
		}
		if chunk.ValidStart != 0 {
			t.Errorf("zero border: valid offset %d, want 0", chunk.ValidStart)
		}
	}
}

// TestChunkInvalidParams verifies parameter validation.
func TestChunkInvalidParams(t *testing.T) {
	cases := []struct {
		name    string
		l, c, b int
	}{
		{"ZeroChunk", 10, 0, 0},
		{"NegativeChunk", 10, -1, 0},
		{"NegativeBorder", 10, 4, -2},
		{"NegativeLength", -1, 4, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewChunkedWindowIterator(tc.l, tc.c, tc.b); err == nil {
				t.Errorf("NewChunkedWindowIterator(%d, %d, %d) succeeded, want error", tc.l, tc.c, tc.b)
			}
		})
	}
}

// TestChunkEmptyAxis verifies that a zero-length axis produces no steps.
func TestChunkEmptyAxis(t *testing.T) {
	it, err := NewChunkedWindowIterator(0, 8, 2)
	if err != nil {
		t.Fatal(err)
	}
	if it.Len() != 0 {
		t.Errorf("Len() = %d, want 0", it.Len())
	}
	if _, ok := it.Next(); ok {
		t.Error("Next() produced a chunk for an empty axis")
	}
}

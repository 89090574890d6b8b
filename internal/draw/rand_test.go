/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package draw

import "testing"

// Golden Mulberry32 words per seed. Floats are word/2^32 exactly, so the
// sequences assert bit-for-bit equality, not a tolerance.
var goldenWords = map[uint32][]uint32{
	0:          {0x4434B462, 0x00159C37, 0x39285B08, 0x256D8104, 0x77A2CBD4},
	1:          {0xA087EAF3, 0x00B349C9, 0x8706C4EB, 0xFB2627FD, 0xF7E79D2B},
	1204616256: {0x08CB304E, 0x8679ECBC, 0x8BC5968A, 0x78B2FB9B, 0xDD9F6115},
}

func TestRandGoldenSequences(t *testing.T) {
	for seed, words := range goldenWords {
		r := NewRand(seed)
		for i, w := range words {
			want := float64(w) / 4294967296
			if got := r.Next(); got != want {
				t.Errorf("seed %d draw %d = %v, want %v (word %08X)", seed, i, got, want, w)
			}
		}
	}
}

func TestRandSameSeedSameStream(t *testing.T) {
	a := NewRand(1204616256)
	b := NewRand(1204616256)
	for i := 0; i < 1000; i++ {
		va, vb := a.Next(), b.Next()
		if va != vb {
			t.Fatalf("draw %d diverged: %v vs %v", i, va, vb)
		}
	}
}

func TestRandRange(t *testing.T) {
	r := NewRand(42)
	for i := 0; i < 10000; i++ {
		v := r.Next()
		if v < 0 || v >= 1 {
			t.Fatalf("draw %d = %v, want [0, 1)", i, v)
		}
	}
}

func TestRandIndependentInstances(t *testing.T) {
	a := NewRand(1)
	_ = a.Next()
	_ = a.Next()

	// A fresh generator must not observe another instance's progress.
	b := NewRand(1)
	if got, want := b.Next(), float64(0xA087EAF3)/4294967296; got != want {
		t.Errorf("fresh generator first draw = %v, want %v", got, want)
	}
}

package master_test

import (
	"testing"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func TestSequenceNextWraps(t *testing.T) {
	t.Parallel()

	seq := master.Sequence(15)
	next := seq.Next()
	if next.Value() != 0 {
		t.Errorf("Next() from 15 = %d, want 0", next.Value())
	}
}

func TestSequenceValueMasksTo4Bits(t *testing.T) {
	t.Parallel()

	seq := master.Sequence(0xFF)
	if seq.Value() != 0x0F {
		t.Errorf("Value() = %#x, want %#x", seq.Value(), 0x0F)
	}
}

func TestSequenceEqualIgnoresHighBits(t *testing.T) {
	t.Parallel()

	a := master.Sequence(0x05)
	b := master.Sequence(0x15)
	if !a.Equal(b) {
		t.Errorf("Equal(%v, %v) = false, want true (same low nibble)", a, b)
	}

	c := master.Sequence(0x06)
	if a.Equal(c) {
		t.Errorf("Equal(%v, %v) = true, want false", a, c)
	}
}

package master

// Sequence is the 4-bit application-layer sequence counter carried on
// every fragment header.
//
// Grounded on the original source's app/sequence.rs usage in
// dnp3/src/master/session.rs (Sequence, association.increment_seq()).
type Sequence uint8

// seqMask keeps the counter within the 4-bit wire range.
const seqMask = 0x0F

// Value returns the sequence as a plain 4-bit value.
func (s Sequence) Value() uint8 {
	return uint8(s) & seqMask
}

// Next returns the sequence incremented by one, modulo 16.
func (s Sequence) Next() Sequence {
	return Sequence((uint8(s) + 1) & seqMask)
}

// Equal reports whether two sequences carry the same 4-bit value.
func (s Sequence) Equal(o Sequence) bool {
	return s.Value() == o.Value()
}

package swddude

import "testing"

func TestRemotePtrSizeOfPointee(t *testing.T) {
	if got := NewRemotePtr[uint8](0).SizeOfPointee(); got != 1 {
		t.Errorf("uint8 pointee size = %d, want 1", got)
	}
	if got := NewRemotePtr[uint16](0).SizeOfPointee(); got != 2 {
		t.Errorf("uint16 pointee size = %d, want 2", got)
	}
	if got := NewRemotePtr[uint32](0).SizeOfPointee(); got != 4 {
		t.Errorf("uint32 pointee size = %d, want 4", got)
	}
}

func TestRemotePtrAdd(t *testing.T) {
	p := NewRemotePtr[uint32](0x1000)

	if got := p.Add(1).Bits(); got != 0x1004 {
		t.Errorf("Add(1).Bits() = %#x, want 0x1004", got)
	}
	if got := p.Inc().Bits(); got != 0x1004 {
		t.Errorf("Inc().Bits() = %#x, want 0x1004", got)
	}

	bytePtr := NewRemotePtr[uint8](0x1000)
	if got := bytePtr.Add(3).Bits(); got != 0x1003 {
		t.Errorf("byte Add(3).Bits() = %#x, want 0x1003", got)
	}
}

// Exercises the comparison operators for strictness -- Greater must not
// alias Less, and comparisons against an equal pointer must be reflexive.
func TestRemotePtrComparisons(t *testing.T) {
	low := NewRemotePtr[uint32](0x1000)
	high := NewRemotePtr[uint32](0x2000)

	if !low.Less(high) {
		t.Error("low.Less(high) = false, want true")
	}
	if low.Greater(high) {
		t.Error("low.Greater(high) = true, want false")
	}
	if !high.Greater(low) {
		t.Error("high.Greater(low) = false, want true")
	}
	if high.Less(low) {
		t.Error("high.Less(low) = true, want false")
	}
	if !low.Equal(low) {
		t.Error("low.Equal(low) = false, want true")
	}
	if low.Equal(high) {
		t.Error("low.Equal(high) = true, want false")
	}
	if !low.LessOrEqual(low) || !low.GreaterOrEqual(low) {
		t.Error("reflexive LessOrEqual/GreaterOrEqual should hold")
	}
}

func TestRemotePtrBit(t *testing.T) {
	p := NewRemotePtr[uint32](0b1010)

	if p.Bit(0) {
		t.Error("bit 0 of 0b1010 should be clear")
	}
	if !p.Bit(1) {
		t.Error("bit 1 of 0b1010 should be set")
	}
}

package swddude

import "testing"

func TestFixLPCChecksum(t *testing.T) {
	image := make([]byte, 64)
	// First Cortex-M vector (initial SP) and second (reset vector).
	image[0], image[1], image[2], image[3] = 0x00, 0x00, 0x00, 0x20
	image[4], image[5], image[6], image[7] = 0x41, 0x00, 0x00, 0x00

	FixLPCChecksum(image)

	var sum uint32
	for i := 0; i < 32; i += 4 {
		sum += uint32(image[i]) | uint32(image[i+1])<<8 | uint32(image[i+2])<<16 | uint32(image[i+3])<<24
	}

	if sum != 0 {
		t.Errorf("sum of first 8 vectors after checksum fix = %#x, want 0", sum)
	}
}

func TestFixLPCChecksumTooShort(t *testing.T) {
	image := make([]byte, 16)
	// Must not panic on an image too short to hold a checksum word.
	FixLPCChecksum(image)
}

func TestUnmapBootSector(t *testing.T) {
	_, target := newTestTarget()

	if err := UnmapBootSector(target); err != nil {
		t.Fatalf("UnmapBootSector: %v", err)
	}

	got, err := target.ReadWord(sysconSYSMEMREMAP)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != sysMemRemapMapUserFlash {
		t.Errorf("SYSMEMREMAP = %d, want %d", got, sysMemRemapMapUserFlash)
	}
}

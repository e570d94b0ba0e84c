package swddude

import "testing"

func TestSWDRequestHeader(t *testing.T) {
	cases := []struct {
		name       string
		address    uint
		debugPort  bool
		write      bool
		wantBits   byte // fixed bits, parity/address excluded from comparison mask
	}{
		{"dp idcode read", 0x0, true, false, swdHeaderStart | swdHeaderDP | swdHeaderRead | swdHeaderPark},
		{"dp abort write", 0x0, true, true, swdHeaderStart | swdHeaderDP | swdHeaderWrite | swdHeaderPark},
		{"ap read", 0xC, false, false, swdHeaderStart | swdHeaderAP | swdHeaderRead | swdHeaderPark},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := swdRequest(c.address, c.debugPort, c.write)
			// Mask out the address and parity bits, which vary per case.
			const fixedMask = swdHeaderStart | swdHeaderAP | swdHeaderDP | swdHeaderRead | swdHeaderWrite | swdHeaderPark
			if got&fixedMask != c.wantBits {
				t.Errorf("swdRequest(%#x, %v, %v) = %#02x, fixed bits = %#02x, want %#02x",
					c.address, c.debugPort, c.write, got, got&fixedMask, c.wantBits)
			}
		})
	}
}

func TestSWDRequestParityIsEven(t *testing.T) {
	for addr := uint(0); addr < 4; addr++ {
		for _, dp := range []bool{true, false} {
			for _, write := range []bool{true, false} {
				req := swdRequest(addr, dp, write)

				ones := 0
				for bit := 1; bit <= 5; bit++ {
					if req&(1<<uint(bit)) != 0 {
						ones++
					}
				}

				if ones%2 != 0 {
					t.Errorf("swdRequest(%d, %v, %v) = %#02x has odd parity over bits 1-5", addr, dp, write, req)
				}
			}
		}
	}
}

func TestSWDParity(t *testing.T) {
	cases := []struct {
		data uint32
		want bool
	}{
		{0x00000000, false},
		{0x00000001, true},
		{0x00000003, false},
		{0xFFFFFFFF, false},
		{0x80000000, true},
	}

	for _, c := range cases {
		if got := swdParity(c.data); got != c.want {
			t.Errorf("swdParity(%#x) = %v, want %v", c.data, got, c.want)
		}
	}
}

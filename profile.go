// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

// PinConfig gives the state and direction bytes MPSSE's SET_BITS_LOW/
// SET_BITS_HIGH commands expect for one of the four fixed pin states a
// programmer profile defines.
type PinConfig struct {
	LowState      byte
	LowDirection  byte
	HighState     byte
	HighDirection byte
}

// Profile describes one FTDI-based SWD programmer: its USB identity and four
// pin configurations (idle while reading, idle while writing, asserting a
// target reset, asserting an SWD line reset). Open uses VID, PID and
// Interface. The pin configurations are not applied: the MPSSE setup and the
// SWD driver always drive the fixed low-byte pin values defined in mpsse.go,
// which match the um232h profile, and set the high pin byte to zero.
type Profile struct {
	VID         uint16
	PID         uint16
	Interface   int
	IdleRead    PinConfig
	IdleWrite   PinConfig
	ResetTarget PinConfig
	ResetSWD    PinConfig
}

var um232hProfile = Profile{
	VID: 0x0403, PID: 0x6014, Interface: 0,
	IdleRead:    PinConfig{0x09, 0x09, 0x00, 0x00},
	IdleWrite:   PinConfig{0x09, 0x0b, 0x00, 0x00},
	ResetTarget: PinConfig{0x01, 0x0b, 0x00, 0x00},
	ResetSWD:    PinConfig{0x0b, 0x0b, 0x00, 0x00},
}

var busBlasterProfile = Profile{
	VID: 0x0403, PID: 0x6010, Interface: 0,
	IdleRead:    PinConfig{0x09, 0x29, 0xb7, 0x58},
	IdleWrite:   PinConfig{0x09, 0x2b, 0xa7, 0x58},
	ResetTarget: PinConfig{0x01, 0x2b, 0xa5, 0x5A},
	ResetSWD:    PinConfig{0x0b, 0x2b, 0xa7, 0x58},
}

var knownProfiles = map[string]Profile{
	"um232h":      um232hProfile,
	"bus_blaster": busBlasterProfile,
}

// LookupProfile finds a named programmer profile by name.
func LookupProfile(name string) (Profile, error) {
	profile, ok := knownProfiles[name]
	if !ok {
		return Profile{}, NewError(Failure, "unknown programmer profile %q", name)
	}

	return profile, nil
}

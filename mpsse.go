// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package swddude

import (
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// MPSSE opcode bytes, per FTDI's MPSSE command reference.
const (
	mpsseDisDiv5     = 0x8A
	mpsseDisAdaptive = 0x97
	mpsseDis3Phase   = 0x8D
	mpsseEn3Phase    = 0x8C
	mpsseTckDivisor  = 0x86
	mpsseClkBits     = 0x8E // clock N+1 bits, no data transfer
	mpsseClkBytes    = 0x8F // clock (N+1)*8 bits, no data transfer

	mpsseSetBitsLow  = 0x80
	mpsseSetBitsHigh = 0x82

	mpsseDoWrite  = 0x10
	mpsseDoRead   = 0x20
	mpsseBitmode  = 0x02
	mpsseLSB      = 0x08
	mpsseReadNeg  = 0x04
	mpsseWriteNeg = 0x01
)

// Pin states/directions for the FT232H's four SWD-relevant GPIO lines
// (RST, SWDIO-in, SWDIO-out, SWDCLK). These are the um232h profile's values
// and are used whichever programmer profile was selected.
const (
	pinStateIdle        = 0x9
	pinStateResetTarget = 0x1
	pinStateResetSWD    = 0xB

	pinDirWrite = 0xB
	pinDirRead  = 0x9
)

// FTDI vendor-class control requests (bRequest values) and the bmRequestType
// bytes that select vendor/device-recipient transfers in either direction.
const (
	ftdiVendorOut = 0x40 // host-to-device | vendor | device
	ftdiVendorIn  = 0xC0 // device-to-host | vendor | device

	ftdiReqReset           = 0x00
	ftdiReqSetLatencyTimer = 0x09
	ftdiReqSetBitMode      = 0x0B
	ftdiReqReadEEPROM      = 0x90

	ftdiResetSIO  = 0
	ftdiPurgeRX   = 1
	ftdiPurgeTX   = 2

	ftdiBitModeReset = 0x00
	ftdiBitModeMPSSE = 0x02

	ftdiLatencyTimerMS = 1

	// ftdiChunkSize bounds how much of a single command buffer is handed to
	// one bulk write at a time, matching the host-side chunking
	// ftdi_{read,write}_data_set_chunksize configures in the FTDI driver.
	ftdiChunkSize = 65536

	// EEPROM word addresses ftdi_read_chipid reads to derive the FT232H's
	// factory-programmed unique chip ID.
	ftdiChipIDWord0 = 0x43
	ftdiChipIDWord1 = 0x53
	ftdiChipIDWord2 = 0x63
)

// ftLow and ftHigh encode a count N as N-1, split into its low and high
// bytes, the trick several
// MPSSE opcodes use to get one more bit of range out of their count field.
func ftLow(n int) byte  { return byte((n - 1) & 0xFF) }
func ftHigh(n int) byte { return byte(((n - 1) >> 8) & 0xFF) }

// MPSSE drives an FTDI FT232H's MPSSE engine over USB bulk transfers. It
// knows nothing about SWD; it only knows how to get bytes onto and off of
// the wire, and how to put the chip into MPSSE mode in the first place.
type MPSSE struct {
	ctx     *gousb.Context
	device  *gousb.Device
	config  *gousb.Config
	iface   *gousb.Interface
	outEP   *gousb.OutEndpoint
	inEP    *gousb.InEndpoint
	profile Profile
}

// Open finds a device matching profile's VID/PID, claims its MPSSE
// interface, resets the FTDI chip, and switches it into MPSSE mode.
func Open(profile Profile) (*MPSSE, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(profile.VID), gousb.ID(profile.PID))
	if err != nil {
		ctx.Close()
		return nil, WrapError(OpenFailed, err, "unable to open FTDI device [%04x:%04x]", profile.VID, profile.PID)
	}

	if device == nil {
		ctx.Close()
		return nil, NewError(OpenFailed, "no FTDI device [%04x:%04x] found", profile.VID, profile.PID)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, WrapError(InterfaceFailed, err, "could not claim configuration 1")
	}

	iface, err := config.Interface(profile.Interface, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, WrapError(InterfaceFailed, err, "could not claim interface %d", profile.Interface)
	}

	outEP, err := iface.OutEndpoint(ftdiBulkOutEndpoint)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, WrapError(InterfaceFailed, err, "could not open bulk out endpoint")
	}

	inEP, err := iface.InEndpoint(ftdiBulkInEndpoint)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, WrapError(InterfaceFailed, err, "could not open bulk in endpoint")
	}

	m := &MPSSE{
		ctx:     ctx,
		device:  device,
		config:  config,
		iface:   iface,
		outEP:   outEP,
		inEP:    inEP,
		profile: profile,
	}

	if err := m.resetChip(); err != nil {
		m.Close()
		return nil, err
	}

	chipID, err := m.readChipID()
	if err != nil {
		m.Close()
		return nil, err
	}
	log.Debugf("FTDI chip id: %08X", chipID)

	if err := m.setup(); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

// ftdiIndex is the wIndex FTDI vendor requests expect: the 1-based channel
// number for multi-interface chips.
func (m *MPSSE) ftdiIndex() uint16 {
	return uint16(m.profile.Interface) + 1
}

func (m *MPSSE) vendorControlOut(request uint8, value uint16) error {
	_, err := m.device.Control(ftdiVendorOut, request, value, m.ftdiIndex(), nil)
	return err
}

// resetChip issues the FTDI SIO reset vendor request, the USB-level
// equivalent of power-cycling the chip's internal state machine.
func (m *MPSSE) resetChip() error {
	if err := m.vendorControlOut(ftdiReqReset, ftdiResetSIO); err != nil {
		return WrapError(ResetFailed, err, "FTDI chip reset failed")
	}
	return nil
}

// purgeBuffers discards anything sitting in the FTDI chip's RX/TX FIFOs
// left over from a previous session.
func (m *MPSSE) purgeBuffers() error {
	if err := m.vendorControlOut(ftdiReqReset, ftdiPurgeRX); err != nil {
		return WrapError(Failure, err, "FTDI RX purge failed")
	}
	if err := m.vendorControlOut(ftdiReqReset, ftdiPurgeTX); err != nil {
		return WrapError(Failure, err, "FTDI TX purge failed")
	}
	return nil
}

func (m *MPSSE) setLatencyTimer(ms uint8) error {
	if err := m.vendorControlOut(ftdiReqSetLatencyTimer, uint16(ms)); err != nil {
		return WrapError(Failure, err, "FTDI set latency timer failed")
	}
	return nil
}

func (m *MPSSE) setBitMode(mask, mode byte) error {
	value := uint16(mode)<<8 | uint16(mask)
	if err := m.vendorControlOut(ftdiReqSetBitMode, value); err != nil {
		return WrapError(Failure, err, "FTDI set bitmode failed")
	}
	return nil
}

// readEEPROMWord reads one 16-bit word from the FTDI chip's EEPROM at addr.
func (m *MPSSE) readEEPROMWord(addr uint16) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := m.device.Control(ftdiVendorIn, ftdiReqReadEEPROM, 0, addr, buf); err != nil {
		return 0, WrapError(Failure, err, "FTDI EEPROM read at %#x failed", addr)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// readChipID derives the FT232H's factory-programmed unique chip ID from
// three EEPROM words, the same byte-swap-and-fold construction
// ftdi_read_chipid uses.
func (m *MPSSE) readChipID() (uint32, error) {
	swap16 := func(w uint16) uint16 { return w<<8 | w>>8 }

	w0, err := m.readEEPROMWord(ftdiChipIDWord0)
	if err != nil {
		return 0, err
	}
	w1, err := m.readEEPROMWord(ftdiChipIDWord1)
	if err != nil {
		return 0, err
	}
	w2, err := m.readEEPROMWord(ftdiChipIDWord2)
	if err != nil {
		return 0, err
	}

	a := uint32(swap16(w0))
	b := uint32(swap16(w1))
	c := uint32(swap16(w2))

	a = (a << 16) | (b & 0xFFFF)
	a ^= (c << 16) | (c & 0xFFFF)

	return a, nil
}

// Close resets the chip out of MPSSE/bitbang mode, then releases everything
// Open acquired, in reverse order. Safe to call on a partially-initialized
// MPSSE (e.g. if Open itself failed partway).
func (m *MPSSE) Close() {
	if m.device != nil {
		if err := m.setBitMode(0xFF, ftdiBitModeReset); err != nil {
			log.Warnf("resetting FTDI bitmode on close failed: %v", err)
		}
	}
	if m.iface != nil {
		m.iface.Close()
	}
	if m.config != nil {
		m.config.Close()
	}
	if m.device != nil {
		m.device.Close()
	}
	if m.ctx != nil {
		m.ctx.Close()
	}
}

const (
	ftdiBulkOutEndpoint = 0x02
	ftdiBulkInEndpoint  = 0x81
)

// writeChunked writes data to the out endpoint in pieces no larger than
// ftdiChunkSize, matching the write chunk size the FTDI driver is
// configured for.
func (m *MPSSE) writeChunked(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > ftdiChunkSize {
			n = ftdiChunkSize
		}

		if _, err := m.outEP.Write(data[:n]); err != nil {
			return WrapError(Failure, err, "mpsse command write failed")
		}

		data = data[n:]
	}

	return nil
}

// transact writes command to the device, then polls the in endpoint until
// at least len(response) bytes have accumulated or timeout elapses.
// Grounded on swd_mpsse.cpp's mpsse_transaction, which does exactly this
// with a 1ms poll interval against libftdi's synchronous read call.
func (m *MPSSE) transact(command []byte, responseLen int, timeout time.Duration) ([]byte, error) {
	if err := m.writeChunked(command); err != nil {
		return nil, err
	}

	response := make([]byte, 0, responseLen)
	scratch := make([]byte, responseLen)
	deadline := time.Now().Add(timeout)

	for len(response) < responseLen {
		n, err := m.inEP.Read(scratch[:responseLen-len(response)])
		if err != nil {
			return nil, WrapError(Failure, err, "mpsse response read failed")
		}

		response = append(response, scratch[:n]...)

		if len(response) >= responseLen {
			break
		}

		if time.Now().After(deadline) {
			return nil, NewError(Timeout, "mpsse response timed out after %d/%d bytes", len(response), responseLen)
		}

		time.Sleep(time.Millisecond)
	}

	return response, nil
}

// synchronize performs the 0xAA loopback handshake FTDI documents for
// entering MPSSE mode: send a bogus opcode, expect the chip to echo it back
// prefixed with 0xFA (bad-command marker).
func (m *MPSSE) synchronize() error {
	response, err := m.transact([]byte{0xAA}, 2, time.Second)
	if err != nil {
		return WrapError(SyncFailed, err, "mpsse synchronize failed")
	}

	if response[0] != 0xFA || response[1] != 0xAA {
		return NewError(SyncFailed, "mpsse synchronize got unexpected response %02X %02X", response[0], response[1])
	}

	return nil
}

// setup brings the FTDI device from power-on state to an MPSSE engine ready
// to clock SWD: set the latency timer to 1ms, purge stale buffer contents,
// reset bitmode then switch to MPSSE bitmode, run the 0xAA/0xFA sync
// handshake, and finally program the clock divisor (1MHz from the 60MHz
// internal clock), 3-phase clocking, and idle pin state.
func (m *MPSSE) setup() error {
	log.Debugf("switching FTDI device [%04x:%04x] into MPSSE mode", m.profile.VID, m.profile.PID)

	if err := m.setLatencyTimer(ftdiLatencyTimerMS); err != nil {
		return err
	}

	if err := m.purgeBuffers(); err != nil {
		return err
	}

	if err := m.setBitMode(0, ftdiBitModeReset); err != nil {
		return err
	}
	if err := m.setBitMode(0, ftdiBitModeMPSSE); err != nil {
		return err
	}

	if err := m.synchronize(); err != nil {
		return err
	}

	commands := []byte{
		mpsseDisDiv5,
		mpsseDisAdaptive,
		mpsseDis3Phase,
		mpsseEn3Phase,

		mpsseTckDivisor, ftLow(30), ftHigh(30),
		mpsseSetBitsLow, pinStateIdle, pinDirWrite,
		mpsseSetBitsHigh, 0, 0,
	}

	if err := m.writeChunked(commands); err != nil {
		return WrapError(InitFailed, err, "mpsse setup command write failed")
	}

	return nil
}

// setPins immediately drives the low GPIO byte to state with the given
// direction mask, used by the SWD driver to flip between idle/read/write/
// reset states.
func (m *MPSSE) setPins(state, direction byte) error {
	if err := m.writeChunked([]byte{mpsseSetBitsLow, state, direction}); err != nil {
		return WrapError(Failure, err, "mpsse set pins failed")
	}
	return nil
}

// clockIdleBits clocks count bits (1..8) with no data transfer.
func (m *MPSSE) clockIdleBits(count int) error {
	err := m.writeChunked([]byte{mpsseClkBits, ftLow(count)})
	if err != nil {
		return WrapError(Failure, err, "mpsse clock bits failed")
	}
	return nil
}

// clockIdleBytes clocks count*8 bits with no data transfer.
func (m *MPSSE) clockIdleBytes(count int) error {
	err := m.writeChunked([]byte{mpsseClkBytes, ftLow(count), ftHigh(count)})
	if err != nil {
		return WrapError(Failure, err, "mpsse clock bytes failed")
	}
	return nil
}

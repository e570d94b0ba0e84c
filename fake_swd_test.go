package swddude

// fakeSWD is an in-memory simulator of an SWDDriver, standing in for a real
// target during tests. It models just enough of the ADIv5 DP/AP register
// semantics (SELECT banking, one-deep pipelined AP reads) and a flat memory
// array behind the first MEM-AP for DebugAccessPort and Target to exercise
// against.
type fakeSWD struct {
	dpRegs [4]uint32 // ABORT(write-only, ignored)/CTRLSTAT/SELECT/RDBUFF

	apRegs   map[uint8]map[uint8]uint32 // apIndex -> (bank<<4 | reg) -> value
	pendingAP uint32

	mem      map[uint32]uint32
	coreRegs map[uint32]uint32

	reads  int
	writes int
}

func newFakeSWD() *fakeSWD {
	return &fakeSWD{
		apRegs: map[uint8]map[uint8]uint32{
			0: {},
		},
		mem:      map[uint32]uint32{},
		coreRegs: map[uint32]uint32{},
	}
}

// simulateMemWrite applies side effects real Cortex-M debug hardware would
// produce for writes to a handful of addresses this package's tests drive
// through Target: the DCRSR/DCRDR register-transfer handshake, and the
// AIRCR.SYSRESETREQ -> halted-with-vector-catch transition.
func (f *fakeSWD) simulateMemWrite(addr, data uint32) {
	switch addr {
	case dcbDCRSR:
		regNum := data & 0x1F
		if data&dcrsrWrite != 0 {
			f.coreRegs[regNum] = f.mem[dcbDCRDR]
		} else {
			f.mem[dcbDCRDR] = f.coreRegs[regNum]
		}
		f.mem[dcbDHCSR] |= dhcsrSRegRdy

	case scbAIRCR:
		if data&scbAIRCRSysReset != 0 {
			f.mem[dcbDHCSR] |= dhcsrSHalt
			f.mem[scbDFSR] |= dfsrVCatch
		}
	}
}

func (f *fakeSWD) Initialize() (uint32, error) { return 0x2BA01477, nil }
func (f *fakeSWD) EnterReset() error            { return nil }
func (f *fakeSWD) LeaveReset() error            { return nil }

func (f *fakeSWD) Read(address uint, debugPort bool) (uint32, error) {
	f.reads++

	if debugPort {
		switch address {
		case 0: // IDCODE
			return 0x2BA01477, nil
		case 1: // CTRL/STAT
			return f.dpRegs[1], nil
		case 2: // RESEND
			return f.pendingAP, nil
		case 3: // RDBUFF
			return f.pendingAP, nil
		}
		return 0, nil
	}

	// AP register access: address is (regOffset>>2)&3 within the current bank.
	sel := f.dpRegs[2]
	apIndex := uint8(sel >> 24)
	bank := uint8((sel & 0xF0))
	regOffset := uint8(address<<2) | bank

	if f.apRegs[apIndex] == nil {
		f.apRegs[apIndex] = map[uint8]uint32{}
	}

	result := f.pendingAP
	f.pendingAP = f.readAPRegister(apIndex, regOffset)
	return result, nil
}

func (f *fakeSWD) readAPRegister(apIndex uint8, regOffset uint8) uint32 {
	if apIndex == 0 {
		switch regOffset {
		case memAPCSW:
			return f.apRegs[0][memAPCSW]
		case memAPTAR:
			return f.apRegs[0][memAPTAR]
		case memAPDRW:
			addr := f.apRegs[0][memAPTAR]
			val := f.mem[addr]
			if f.apRegs[0][memAPCSW]&(1<<4) != 0 {
				f.apRegs[0][memAPTAR] = addr + 4
			}
			return val
		}
	}

	return f.apRegs[apIndex][regOffset]
}

func (f *fakeSWD) Write(address uint, debugPort bool, data uint32) error {
	f.writes++

	if debugPort {
		switch address {
		case 0: // ABORT
		case 1: // CTRL/STAT
			f.dpRegs[1] = data
		case 2: // SELECT
			f.dpRegs[2] = data
		}
		return nil
	}

	sel := f.dpRegs[2]
	apIndex := uint8(sel >> 24)
	bank := uint8(sel & 0xF0)
	regOffset := uint8(address<<2) | bank

	if f.apRegs[apIndex] == nil {
		f.apRegs[apIndex] = map[uint8]uint32{}
	}

	if apIndex == 0 && regOffset == memAPDRW {
		addr := f.apRegs[0][memAPTAR]
		f.mem[addr] = data
		f.simulateMemWrite(addr, data)
		if f.apRegs[0][memAPCSW]&(1<<4) != 0 {
			f.apRegs[0][memAPTAR] = addr + 4
		}
		return nil
	}

	f.apRegs[apIndex][regOffset] = data
	return nil
}

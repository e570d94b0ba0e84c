package swddude

import "testing"

func TestDebugAccessPortResetState(t *testing.T) {
	swd := newFakeSWD()
	dap := NewDebugAccessPort(swd)

	if err := dap.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	if swd.dpRegs[1]&(ctrlStatCSYSPWRUPREQ|ctrlStatCDBGPWRUPREQ) == 0 {
		t.Error("ResetState did not request power-up")
	}
}

func TestDebugAccessPortSelectCaching(t *testing.T) {
	swd := newFakeSWD()
	dap := NewDebugAccessPort(swd)

	if err := dap.selectAPBank(0, memAPCSW); err != nil {
		t.Fatalf("selectAPBank: %v", err)
	}
	writesAfterFirst := swd.writes

	// Selecting the same AP/bank again should not issue another SELECT write.
	if err := dap.selectAPBank(0, memAPTAR); err != nil {
		t.Fatalf("selectAPBank: %v", err)
	}
	if swd.writes != writesAfterFirst {
		t.Errorf("redundant selectAPBank issued %d extra writes, want 0", swd.writes-writesAfterFirst)
	}

	// Selecting a different AP must issue a new SELECT write.
	if err := dap.selectAPBank(1, memAPCSW); err != nil {
		t.Fatalf("selectAPBank: %v", err)
	}
	if swd.writes == writesAfterFirst {
		t.Error("selecting a different AP index should issue a new SELECT write")
	}
}

func TestDebugAccessPortWriteReadAP(t *testing.T) {
	swd := newFakeSWD()
	dap := NewDebugAccessPort(swd)

	if err := dap.WriteAP(0, memAPTAR, 0x20000000); err != nil {
		t.Fatalf("WriteAP TAR: %v", err)
	}
	if err := dap.WriteAP(0, memAPDRW, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteAP DRW: %v", err)
	}

	if swd.mem[0x20000000] != 0xCAFEBABE {
		t.Errorf("mem[0x20000000] = %#x, want 0xCAFEBABE", swd.mem[0x20000000])
	}

	if err := dap.WriteAP(0, memAPTAR, 0x20000000); err != nil {
		t.Fatalf("WriteAP TAR: %v", err)
	}
	if err := dap.StartReadAP(0, memAPDRW); err != nil {
		t.Fatalf("StartReadAP: %v", err)
	}
	got, err := dap.ReadRDBuff()
	if err != nil {
		t.Fatalf("ReadRDBuff: %v", err)
	}
	if got != 0xCAFEBABE {
		t.Errorf("read back %#x, want 0xCAFEBABE", got)
	}
}

func TestDebugAccessPortMisalignedAccess(t *testing.T) {
	swd := newFakeSWD()
	dap := NewDebugAccessPort(swd)

	if err := dap.WriteAP(0, 0x01, 0); CodeOf(err) != ArgumentError {
		t.Errorf("WriteAP with misaligned address: got %v, want ArgumentError", err)
	}
	if _, err := dap.StepReadAP(0, 0x02); CodeOf(err) != ArgumentError {
		t.Errorf("StepReadAP with misaligned address: got %v, want ArgumentError", err)
	}
}

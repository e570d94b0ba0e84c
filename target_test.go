package swddude

import "testing"

func newTestTarget() (*fakeSWD, *Target) {
	swd := newFakeSWD()
	dap := NewDebugAccessPort(swd)
	target := NewTarget(swd, dap, 0)
	return swd, target
}

func TestTargetPeekPoke32(t *testing.T) {
	_, target := newTestTarget()

	if err := target.Poke32(0x20000000, 0x11223344); err != nil {
		t.Fatalf("Poke32: %v", err)
	}

	got, err := target.Peek32(0x20000000)
	if err != nil {
		t.Fatalf("Peek32: %v", err)
	}
	if got != 0x11223344 {
		t.Errorf("Peek32 = %#x, want 0x11223344", got)
	}
}

func TestTargetReadWriteWords(t *testing.T) {
	_, target := newTestTarget()

	words := []uint32{1, 2, 3, 4}
	if err := target.WriteWords(words, 0x20001000); err != nil {
		t.Fatalf("WriteWords: %v", err)
	}

	got, err := target.ReadWords(0x20001000, len(words))
	if err != nil {
		t.Fatalf("ReadWords: %v", err)
	}

	for i, w := range words {
		if got[i] != w {
			t.Errorf("word %d = %d, want %d", i, got[i], w)
		}
	}
}

func TestTargetReadWriteRegister(t *testing.T) {
	_, target := newTestTarget()

	if err := target.WriteRegister(RegR0, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}

	got, err := target.ReadRegister(RegR0)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("ReadRegister(R0) = %#x, want 0xDEADBEEF", got)
	}

	// Registers are independent of each other.
	if err := target.WriteRegister(RegR1, 0x1); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	got, err = target.ReadRegister(RegR0)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("ReadRegister(R0) after writing R1 = %#x, want unchanged 0xDEADBEEF", got)
	}
}

func TestTargetResetAndHalt(t *testing.T) {
	_, target := newTestTarget()

	if err := target.ResetAndHalt(); err != nil {
		t.Fatalf("ResetAndHalt: %v", err)
	}

	halted, err := target.IsHalted()
	if err != nil {
		t.Fatalf("IsHalted: %v", err)
	}
	if !halted {
		t.Error("target should report halted after ResetAndHalt")
	}

	reason, err := target.ReadHaltState()
	if err != nil {
		t.Fatalf("ReadHaltState: %v", err)
	}
	if reason&dfsrVCatch == 0 {
		t.Errorf("halt reason %#x missing vector-catch bit", reason)
	}
}

func TestTargetBreakpointBookkeeping(t *testing.T) {
	_, target := newTestTarget()

	count := target.GetBreakpointCount
	_ = count // not called here; BPCTRL NumCode field is zero in the fake.

	if err := target.EnableBreakpoint(0, 0x08000100); err != nil {
		t.Fatalf("EnableBreakpoint: %v", err)
	}

	if !target.EnabledBreakpoints().Get(0) {
		t.Error("breakpoint 0 should be marked enabled")
	}

	if err := target.DisableBreakpoint(0); err != nil {
		t.Fatalf("DisableBreakpoint: %v", err)
	}

	if target.EnabledBreakpoints().Get(0) {
		t.Error("breakpoint 0 should be marked disabled")
	}
}

func TestTargetEnableBreakpointRejectsOutOfRangeAddress(t *testing.T) {
	_, target := newTestTarget()

	err := target.EnableBreakpoint(0, 0xE0000000)
	if CodeOf(err) != ArgumentError {
		t.Errorf("EnableBreakpoint outside code region: got %v, want ArgumentError", err)
	}
}

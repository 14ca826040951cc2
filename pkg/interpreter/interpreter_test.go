package interpreter

import (
	"math"
	"testing"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/memory"
	"gekkojit/pkg/ppc"
)

const base = 0x80003000

func newMachine(t *testing.T, program ...ppc.Inst) *Interpreter {
	t.Helper()
	mem, err := memory.New(1 << 20)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	for i, inst := range program {
		mem.Write32(base+uint32(4*i), uint32(inst))
	}
	state := &guest.State{}
	state.Reset(base)
	return New(state, mem)
}

func stepN(in *Interpreter, n int) {
	for i := 0; i < n; i++ {
		in.Step()
	}
}

func TestCountedLoop(t *testing.T) {
	// r3 = 0; ctr = 10; loop: r3 += ctr; bdnz loop
	in := newMachine(t,
		ppc.ADDI(3, 0, 0),
		ppc.ADDI(4, 0, 10),
		ppc.MTCTR(4),
		ppc.ADD(3, 3, 4),
		ppc.ADDI(4, 4, -1),
		ppc.BC(ppc.BODecNZ, 0, base+20, base+12),
	)
	in.State.Downcount = 1000
	for in.State.PC != base+24 && in.State.Downcount > 0 {
		in.Step()
	}
	if got := in.State.GPR[3]; got != 55 {
		t.Errorf("r3 = %d, want 55", got)
	}
	if in.State.CTR != 0 {
		t.Errorf("ctr = %d, want 0", in.State.CTR)
	}
}

func TestCarryChain(t *testing.T) {
	in := newMachine(t,
		ppc.ADDC(5, 3, 4),
		ppc.ADDE(6, 7, 8),
		ppc.SUBFC(9, 3, 4),
		ppc.SRAWI(10, 11, 4),
		ppc.ADDIC(12, 3, -1),
	)
	s := in.State
	s.GPR[3], s.GPR[4] = 0xFFFFFFFF, 2
	s.GPR[7], s.GPR[8] = 1, 1
	s.GPR[11] = 0xFFFFFFF1
	stepN(in, 2)
	if s.GPR[5] != 1 || s.GPR[6] != 3 || s.CA != 0 {
		t.Fatalf("addc/adde = %d %d ca=%d", s.GPR[5], s.GPR[6], s.CA)
	}
	stepN(in, 1)
	if s.GPR[9] != 3 || s.CA != 0 {
		t.Errorf("subfc = %d ca=%d, want borrow", s.GPR[9], s.CA)
	}
	stepN(in, 1)
	if s.GPR[10] != 0xFFFFFFFF || s.CA != 1 {
		t.Errorf("srawi = %08x ca=%d", s.GPR[10], s.CA)
	}
	stepN(in, 1)
	if s.GPR[12] != 0xFFFFFFFE || s.CA != 1 {
		t.Errorf("addic = %08x ca=%d", s.GPR[12], s.CA)
	}
}

func TestLoadStoreAndDSI(t *testing.T) {
	in := newMachine(t,
		ppc.STWU(4, 8, 3),
		ppc.LHA(5, 2, 3),
		ppc.LWZ(6, 0, 7),
	)
	s := in.State
	s.GPR[3] = 0x80010000
	s.GPR[4] = 0x1234F678
	s.GPR[7] = 0x00000010
	s.GPR[6] = 99

	stepN(in, 2)
	if s.GPR[3] != 0x80010008 {
		t.Errorf("stwu did not update r3: %08x", s.GPR[3])
	}
	if v, _ := in.Mem.Read32(0x80010008); v != 0x1234F678 {
		t.Errorf("stored %08x", v)
	}
	if s.GPR[5] != 0xFFFFF678 {
		t.Errorf("lha = %08x, want sign extension", s.GPR[5])
	}

	stepN(in, 1)
	if s.PC != guest.VectorBase|guest.VectorDSI {
		t.Fatalf("pc = %08x, want dsi vector", s.PC)
	}
	if s.SRR0 != base+8 || s.DAR != 0x10 {
		t.Errorf("srr0 = %08x dar = %08x", s.SRR0, s.DAR)
	}
	if s.GPR[6] != 99 {
		t.Errorf("faulting load modified r6 = %d", s.GPR[6])
	}
}

func TestExecuteOneOpcodeLeavesExceptionPending(t *testing.T) {
	in := newMachine(t)
	in.ExecuteOneOpcode(uint32(ppc.SC()), 0x80004000)
	if in.State.Exceptions != guest.ExceptionSyscall || in.State.PC != 0x80004000 {
		t.Errorf("exceptions = %s pc = %08x", in.State.Exceptions, in.State.PC)
	}

	in.State.Exceptions = 0
	in.ExecuteOneOpcode(0, 0x80004004)
	if in.State.Exceptions != guest.ExceptionProgram || in.State.ProgramCause != guest.ProgramIllegal {
		t.Errorf("illegal opcode raised %s", in.State.Exceptions)
	}

	in.State.Exceptions = 0
	in.State.MSR &^= guest.MSRFP
	in.ExecuteOneOpcode(uint32(ppc.FMR(1, 2)), 0x80004008)
	if in.State.Exceptions != guest.ExceptionFPUnavailable {
		t.Errorf("fmr with FP disabled raised %s", in.State.Exceptions)
	}
}

func TestBranchAndLink(t *testing.T) {
	in := newMachine(t,
		ppc.B(base, base+12, true),
		ppc.NOP(),
		ppc.NOP(),
		ppc.MFLR(5),
		ppc.BLR(),
	)
	stepN(in, 3)
	s := in.State
	if s.GPR[5] != base+4 {
		t.Errorf("mflr = %08x", s.GPR[5])
	}
	if s.PC != base+4 {
		t.Errorf("blr returned to %08x", s.PC)
	}
}

func TestFloat(t *testing.T) {
	in := newMachine(t,
		ppc.FADD(1, 2, 3),
		ppc.FMUL(4, 1, 3),
		ppc.FADDS(5, 2, 6),
		ppc.STFS(5, 0, 7),
		ppc.LFS(8, 0, 7),
		ppc.FNEG(9, 8),
	)
	s := in.State
	s.FPR[2] = math.Float64bits(1.5)
	s.FPR[3] = math.Float64bits(2)
	s.FPR[6] = math.Float64bits(0.1)
	s.GPR[7] = 0x80020000
	stepN(in, 6)
	if got := math.Float64frombits(s.FPR[4]); got != 7 {
		t.Errorf("fmul = %v", got)
	}
	a, b := 1.5, 0.1
	want := float64(float32(a + b))
	if got := math.Float64frombits(s.FPR[5]); got != want {
		t.Errorf("fadds = %v, want %v", got, want)
	}
	if s.FPR[8] != s.FPR[5] || math.Float64frombits(s.FPR[9]) != -want {
		t.Errorf("lfs/fneg = %v %v", math.Float64frombits(s.FPR[8]), math.Float64frombits(s.FPR[9]))
	}
}

func TestIcbiNotifies(t *testing.T) {
	in := newMachine(t, ppc.ICBI(0, 3))
	var got [2]uint32
	in.OnInvalidateICache = func(addr, n uint32) { got = [2]uint32{addr, n} }
	in.State.GPR[3] = 0x80005011
	in.Step()
	if got != [2]uint32{0x80005000, 32} {
		t.Errorf("icbi invalidated %v", got)
	}
}

func TestRunStopsOnDowncount(t *testing.T) {
	in := newMachine(t, ppc.B(base, base, false))
	in.State.Downcount = 10
	if r := in.Run(); r != guest.StopDowncount {
		t.Errorf("Run = %s", r)
	}
	if in.State.Downcount > 0 {
		t.Errorf("downcount = %d", in.State.Downcount)
	}
}

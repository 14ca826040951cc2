package host

import (
	"strings"
	"testing"

	"gekkojit/pkg/guest"
)

// fakeEnv serves a small RAM window starting at 0x80000000.
type fakeEnv struct {
	ram         [256]byte
	interpreted []uint32
	breakAt     uint32
	stop        bool
	ctx         *guest.State
}

func (e *fakeEnv) ok(addr uint32, size int) bool {
	return addr >= 0x80000000 && addr-0x80000000+uint32(size) <= uint32(len(e.ram))
}

func (e *fakeEnv) ReadDirect(addr uint32, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(e.ram[addr-0x80000000+uint32(i)])
	}
	return v
}

func (e *fakeEnv) WriteDirect(addr uint32, size int, v uint64) {
	for i := size - 1; i >= 0; i-- {
		e.ram[addr-0x80000000+uint32(i)] = byte(v)
		v >>= 8
	}
}

func (e *fakeEnv) ReadChecked(addr uint32, size int) uint64 {
	if !e.ok(addr, size) {
		e.ctx.RaiseDSI(addr, false)
		return 0
	}
	return e.ReadDirect(addr, size)
}

func (e *fakeEnv) WriteChecked(addr uint32, size int, v uint64) {
	if !e.ok(addr, size) {
		e.ctx.RaiseDSI(addr, true)
		return
	}
	e.WriteDirect(addr, size, v)
}

func (e *fakeEnv) Interpret(raw, pc uint32)     { e.interpreted = append(e.interpreted, raw, pc) }
func (e *fakeEnv) BreakpointHit(pc uint32) bool { return pc == e.breakAt }
func (e *fakeEnv) StopRequested() bool          { return e.stop }

func newTestState() (*guest.State, *fakeEnv) {
	s := &guest.State{}
	s.Reset(0x80000100)
	s.Downcount = 100
	return s, &fakeEnv{ctx: s}
}

func TestArithmeticAndContext(t *testing.T) {
	buf := make([]byte, 256)
	a := NewAssembler(buf)
	a.LoadContext(R4, uint8(guest.GPRSlot(3)))
	a.AddRegImm32(R4, -1)
	a.MovRegImm32(R5, 0x10)
	a.ALURegReg(OpShlRR, R4, R5)
	a.StoreContext(uint8(guest.GPRSlot(4)), R4)
	a.CmpCRImm32(true, R6, R4, 0)
	a.StoreContext(uint8(guest.CRSlot(0)), R6)
	a.MovRegImm32(R7, 0xFFFFFF80)
	a.Unary(OpSext8, R7)
	a.SetCCImm32(CondSlt, R7, R7, 0)
	a.StoreContext(uint8(guest.SlotCA), R7)
	a.StoreContextImm32(uint8(guest.SlotLR), 0x80000400)
	a.Link(0x80000200)
	if a.Overflowed() {
		t.Fatal("assembler overflowed")
	}

	s, env := newTestState()
	s.GPR[3] = 0x8001
	var m Machine
	exit := m.Run(buf, nil, 0, s, env)

	if exit.Kind != ExitDispatch || s.PC != 0x80000200 {
		t.Fatalf("exit = %s pc = %08x", exit.Kind, s.PC)
	}
	if s.GPR[4] != 0x80000000 {
		t.Errorf("r4 = %08x, want 80000000", s.GPR[4])
	}
	if s.CR[0] != guest.CRLT {
		t.Errorf("cr0 = %x, want LT", s.CR[0])
	}
	if s.CA != 1 || s.LR != 0x80000400 {
		t.Errorf("ca = %d lr = %08x", s.CA, s.LR)
	}
}

func TestCallsClobberCallerSaved(t *testing.T) {
	buf := make([]byte, 128)
	a := NewAssembler(buf)
	a.MovRegImm32(R1, 7)
	a.MovRegImm32(R5, 9)
	a.MovRegImm32(R6, 0x80000010)
	a.CallLoad(4, R2, R6)
	a.StoreContext(uint8(guest.GPRSlot(1)), R1)
	a.StoreContext(uint8(guest.GPRSlot(2)), R2)
	a.StoreContext(uint8(guest.GPRSlot(5)), R5)
	a.ExitReg(R6)

	s, env := newTestState()
	env.WriteDirect(0x80000010, 4, 0xCAFEF00D)
	var m Machine
	m.Run(buf, nil, 0, s, env)
	if s.GPR[1] == 7 {
		t.Error("r1 survived a call")
	}
	if s.GPR[2] != 0xCAFEF00D || s.GPR[5] != 9 {
		t.Errorf("r2 = %08x r5 = %d", s.GPR[2], s.GPR[5])
	}
	if s.PC != 0x80000010 {
		t.Errorf("pc = %08x", s.PC)
	}
}

func TestGuards(t *testing.T) {
	buf := make([]byte, 128)
	a := NewAssembler(buf)
	a.Guard(OpCheckDowncount, 0x80000100)
	a.MovRegImm32(R4, 0x1000)
	a.CallStore(4, R4, R4)
	a.Guard(OpGuardDSI, 0x80000104)
	a.ExitNPC()

	s, env := newTestState()
	var m Machine
	exit := m.Run(buf, nil, 0, s, env)
	if exit.Kind != ExitException || s.PC != 0x80000104 {
		t.Fatalf("exit = %s pc = %08x", exit.Kind, s.PC)
	}
	if s.Exceptions != guest.ExceptionDSI || s.DAR != 0x1000 {
		t.Errorf("exceptions = %s dar = %08x", s.Exceptions, s.DAR)
	}

	s, env = newTestState()
	s.Downcount = 0
	if exit := m.Run(buf, nil, 0, s, env); exit.Kind != ExitTimeout || s.PC != 0x80000100 {
		t.Errorf("exhausted downcount: exit = %s pc = %08x", exit.Kind, s.PC)
	}

	s, env = newTestState()
	env.stop = true
	if exit := m.Run(buf, nil, 0, s, env); exit.Kind != ExitTimeout {
		t.Errorf("stop request: exit = %s", exit.Kind)
	}
}

func TestBranchesAndLinks(t *testing.T) {
	buf := make([]byte, 256)
	a := NewAssembler(buf)

	// block A at 0: if r3 == 0 go to 0x80000300 else fall into link
	a.Guard(OpCheckDowncount, 0x80000100)
	a.LoadContext(R4, uint8(guest.GPRSlot(3)))
	skip := a.JumpIfZero(R4)
	a.SubDowncount(2)
	siteA := a.Link(0x80000200)
	a.Bind(skip)
	a.SubDowncount(3)
	a.Link(0x80000300)

	// block B: increments r3 and returns to A
	entryB := a.Offset()
	a.Guard(OpCheckDowncount, 0x80000200)
	a.LoadContext(R4, uint8(guest.GPRSlot(3)))
	a.AddRegImm32(R4, 1)
	a.StoreContext(uint8(guest.GPRSlot(3)), R4)
	a.SubDowncount(1)
	siteB := a.Link(0x80000100)

	s, env := newTestState()
	s.GPR[3] = 5
	var m Machine
	if exit := m.Run(buf, nil, 0, s, env); exit.Kind != ExitDispatch || s.PC != 0x80000200 {
		t.Fatalf("unlinked: exit = %s pc = %08x", exit.Kind, s.PC)
	}
	if s.Downcount != 98 {
		t.Errorf("downcount = %d, want 98", s.Downcount)
	}

	PatchLink(buf, siteA, true, entryB)
	PatchLink(buf, siteB, true, 0)
	if got := LinkTarget(buf, siteA); got != 0x80000200 {
		t.Errorf("LinkTarget = %08x", got)
	}
	s.Downcount = 10
	exit := m.Run(buf, nil, 0, s, env)
	if exit.Kind != ExitTimeout {
		t.Fatalf("linked loop: exit = %s", exit.Kind)
	}
	if s.Downcount > 0 {
		t.Errorf("linked loop left downcount %d", s.Downcount)
	}
	if exit.Entry != 0 && exit.Entry != entryB {
		t.Errorf("exit entry %d is not a block entry", exit.Entry)
	}

	PatchLink(buf, siteA, false, 0)
	s.GPR[3], s.Downcount = 0, 10
	if exit := m.Run(buf, nil, 0, s, env); exit.Kind != ExitDispatch || s.PC != 0x80000300 {
		t.Errorf("taken branch: exit = %s pc = %08x", exit.Kind, s.PC)
	}
}

func TestInterpreterCallAndConstants(t *testing.T) {
	buf := make([]byte, 128)
	a := NewAssembler(buf)
	a.MovRegImm32(R0, 1)
	a.CallInterpreter(0x7C0004AC, 0x80000100)
	a.LoadConst(R4, 1)
	a.MovRegReg(R5, R4)
	a.FloatRegReg(OpFAdd, R5, R4)
	a.StoreContext(uint8(guest.FPRSlot(1)), R5)
	a.Guard(OpSyscall, 0x80000104)

	s, env := newTestState()
	var m Machine
	consts := []uint64{0, 0x3FF8000000000000} // 1.5
	exit := m.Run(buf, consts, 0, s, env)
	if exit.Kind != ExitException || s.Exceptions != guest.ExceptionSyscall || s.PC != 0x80000104 {
		t.Fatalf("exit = %s exceptions = %s pc = %08x", exit.Kind, s.Exceptions, s.PC)
	}
	if len(env.interpreted) != 2 || env.interpreted[0] != 0x7C0004AC {
		t.Errorf("interpreted %x", env.interpreted)
	}
	if s.FPR[1] != 0x4008000000000000 {
		t.Errorf("f1 = %016x, want 3.0", s.FPR[1])
	}
}

func TestAssemblerOverflow(t *testing.T) {
	a := NewAssembler(make([]byte, 8))
	a.MovRegImm32(R0, 1)
	a.MovRegImm32(R1, 2)
	if !a.Overflowed() {
		t.Fatal("overflow not reported")
	}
	if a.Offset() > 8 {
		t.Errorf("offset = %d, past the buffer", a.Offset())
	}
}

func TestDisassemble(t *testing.T) {
	buf := make([]byte, 64)
	a := NewAssembler(buf)
	a.LoadContext(R4, 3)
	a.ALURegImm32(OpAddRR, R4, 16)
	a.Link(0x80000200)
	got := Disassemble(a.Bytes(), 0)
	for _, want := range []string{"ldctx", "ctx[3]", "add", "0x10", "link", "0x80000200"} {
		if !strings.Contains(got, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, got)
		}
	}
}

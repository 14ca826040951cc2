package jit

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/jit/host"
	"gekkojit/pkg/jit/ir"
)

// unitEnv backs both the host machine and the IR evaluator with the same
// register file and a 256-byte RAM window at 0x80000000.
type unitEnv struct {
	state       *guest.State
	ram         [256]byte
	interpreted []uint32
}

func (e *unitEnv) ok(addr uint32, size int) bool {
	return addr >= 0x80000000 && addr-0x80000000+uint32(size) <= uint32(len(e.ram))
}

func (e *unitEnv) ReadDirect(addr uint32, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(e.ram[addr-0x80000000+uint32(i)])
	}
	return v
}

func (e *unitEnv) WriteDirect(addr uint32, size int, v uint64) {
	for i := size - 1; i >= 0; i-- {
		e.ram[addr-0x80000000+uint32(i)] = byte(v)
		v >>= 8
	}
}

func (e *unitEnv) ReadChecked(addr uint32, size int) uint64 {
	v, _ := e.ReadMemory(addr, size)
	return v
}

func (e *unitEnv) WriteChecked(addr uint32, size int, v uint64) { e.WriteMemory(addr, size, v) }

// Interpret stands in for the interpreter with a visible side effect on
// the register file.
func (e *unitEnv) Interpret(raw, pc uint32) {
	e.interpreted = append(e.interpreted, raw, pc)
	e.state.GPR[raw&7] ^= pc
	e.state.NPC = pc + 4
}

func (e *unitEnv) BreakpointHit(uint32) bool { return false }
func (e *unitEnv) StopRequested() bool       { return false }

func (e *unitEnv) Register(slot int) uint64       { return e.state.Load(guest.Slot(slot)) }
func (e *unitEnv) SetRegister(slot int, v uint64) { e.state.Store(guest.Slot(slot), v) }

func (e *unitEnv) ReadMemory(addr uint32, size int) (uint64, bool) {
	if !e.ok(addr, size) {
		e.state.RaiseDSI(addr, false)
		return 0, false
	}
	return e.ReadDirect(addr, size), true
}

func (e *unitEnv) WriteMemory(addr uint32, size int, v uint64) bool {
	if !e.ok(addr, size) {
		e.state.RaiseDSI(addr, true)
		return false
	}
	e.WriteDirect(addr, size, v)
	return true
}

func (e *unitEnv) Guard(op ir.Opcode, pc uint32) bool {
	s := e.state
	switch op {
	case ir.FPExceptionCheck:
		if !s.FPEnabled() {
			s.Raise(guest.ExceptionFPUnavailable)
			return true
		}
	case ir.DSIExceptionCheck:
		return s.Exceptions&guest.ExceptionDSI != 0
	case ir.ExceptionCheck:
		return s.Exceptions != 0
	case ir.SystemCall:
		s.Raise(guest.ExceptionSyscall)
		return true
	}
	return false
}

func newUnitEnv(seed int64) *unitEnv {
	rng := rand.New(rand.NewSource(seed))
	e := &unitEnv{state: &guest.State{}}
	e.state.Reset(0x80001000)
	for i := range e.state.GPR {
		e.state.GPR[i] = []uint32{0, 1, 31, 32, 0x80000000, 0xFFFFFFFF, rng.Uint32()}[rng.Intn(7)]
	}
	for i := 0; i < 8; i++ {
		e.state.FPR[i] = math.Float64bits(float64(rng.Intn(4000)-2000) / 16)
	}
	for i := range e.state.CR {
		e.state.CR[i] = uint8(rng.Intn(16))
	}
	e.state.CA = uint32(rng.Intn(2))
	rng.Read(e.ram[:])
	e.state.Downcount = 1000
	return e
}

var (
	binaryOps = []ir.Opcode{
		ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor, ir.Shl, ir.Shrl, ir.Sarl, ir.Rol,
		ir.ICmpEq, ir.ICmpNe, ir.ICmpUgt, ir.ICmpUlt, ir.ICmpUge, ir.ICmpUle,
		ir.ICmpSgt, ir.ICmpSlt, ir.ICmpSge, ir.ICmpSle,
	}
	unaryOps = []ir.Opcode{ir.Not, ir.Neg, ir.SExt8, ir.SExt16, ir.Cntlzw}
)

// randomUnit builds a unit that keeps many integer and float values alive
// at once, so blocks of this size always spill.
func randomUnit(rng *rand.Rand, b *ir.Builder, steps int) {
	b.Reset()
	ints := []ir.Ref{b.EmitLoadGReg(1), b.EmitLoadGReg(2)}
	floats := []ir.Ref{b.EmitLoadFReg(1)}
	pick := func(vs []ir.Ref) ir.Ref {
		// bias toward recent values but reach far back too
		if rng.Intn(3) == 0 {
			return vs[rng.Intn(len(vs))]
		}
		lo := len(vs) - 8
		if lo < 0 {
			lo = 0
		}
		return vs[lo+rng.Intn(len(vs)-lo)]
	}
	c := func(v uint32) ir.Ref { return b.EmitIntConst(v) }
	address := func(v ir.Ref, mask uint32) ir.Ref {
		return b.EmitOr(b.EmitAnd(v, c(mask)), c(0x80000000))
	}
	pc := uint32(0x80001000)
	for i := 0; i < steps; i++ {
		pc += 4
		switch rng.Intn(20) {
		case 0:
			ints = append(ints, c([]uint32{0, 1, 31, 0x7FFF, 0xFFFF8000, rng.Uint32()}[rng.Intn(6)]))
		case 1:
			ints = append(ints, b.EmitLoadGReg(rng.Intn(8)))
		case 2, 3, 4:
			op := binaryOps[rng.Intn(len(binaryOps))]
			x, y := pick(ints), pick(ints)
			var r ir.Ref
			switch op {
			case ir.Add:
				r = b.EmitAdd(x, y)
			case ir.Sub:
				r = b.EmitSub(x, y)
			case ir.Mul:
				r = b.EmitMul(x, y)
			case ir.And:
				r = b.EmitAnd(x, y)
			case ir.Or:
				r = b.EmitOr(x, y)
			case ir.Xor:
				r = b.EmitXor(x, y)
			case ir.Shl:
				r = b.EmitShl(x, y)
			case ir.Shrl:
				r = b.EmitShrl(x, y)
			case ir.Sarl:
				r = b.EmitSarl(x, y)
			case ir.Rol:
				r = b.EmitRol(x, y)
			default:
				r = b.EmitICmp(op, x, y)
			}
			ints = append(ints, r)
		case 5:
			x := pick(ints)
			var r ir.Ref
			switch unaryOps[rng.Intn(len(unaryOps))] {
			case ir.Not:
				r = b.EmitNot(x)
			case ir.Neg:
				r = b.EmitNeg(x)
			case ir.SExt8:
				r = b.EmitSExt8(x)
			case ir.SExt16:
				r = b.EmitSExt16(x)
			case ir.Cntlzw:
				r = b.EmitCntlzw(x)
			}
			ints = append(ints, r)
		case 6:
			ints = append(ints, b.EmitICmpCR(rng.Intn(2) == 0, pick(ints), pick(ints)))
		case 7, 8:
			b.EmitStoreGReg(pick(ints), rng.Intn(8))
		case 9:
			b.EmitStoreCR(b.EmitAnd(pick(ints), c(15)), rng.Intn(8))
		case 10:
			size := []int{1, 2, 4}[rng.Intn(3)]
			ints = append(ints, b.EmitLoad(size, address(pick(ints), 0xFC), true))
			b.EmitDSIExceptionCheck(pc)
		case 11:
			size := []int{1, 2, 4}[rng.Intn(3)]
			b.EmitStore(size, pick(ints), address(pick(ints), 0xFC), true)
			b.EmitDSIExceptionCheck(pc)
		case 12:
			// RAM proven at translation time
			ints = append(ints, b.EmitLoad(4, c(0x80000000+4*uint32(rng.Intn(63))), false))
		case 13:
			b.EmitStore(2, pick(ints), c(0x80000000+2*uint32(rng.Intn(127))), false)
		case 14:
			if rng.Intn(8) == 0 {
				// occasionally fault
				ints = append(ints, b.EmitLoad(4, pick(ints), true))
				b.EmitDSIExceptionCheck(pc)
			}
		case 15:
			if rng.Intn(4) == 0 {
				b.EmitInterpreterFallback(rng.Uint32(), pc)
				b.EmitExceptionCheck(pc)
			}
		case 16:
			if rng.Intn(6) == 0 {
				b.EmitBranchCond(pick(ints), c(0x80002000+4*uint32(rng.Intn(64))), uint32(1+rng.Intn(20)))
			}
		case 17:
			x, y := pick(floats), pick(floats)
			switch rng.Intn(4) {
			case 0:
				floats = append(floats, b.EmitFAdd(x, y))
			case 1:
				floats = append(floats, b.EmitFSub(x, y))
			case 2:
				floats = append(floats, b.EmitFMul(x, y))
			case 3:
				floats = append(floats, b.EmitFNeg(x))
			}
		case 18:
			switch rng.Intn(3) {
			case 0:
				floats = append(floats, b.EmitLoadFReg(rng.Intn(8)))
			case 1:
				floats = append(floats, b.EmitFRoundSingle(pick(floats)))
			case 2:
				single := b.EmitDoubleToSingle(pick(floats))
				floats = append(floats, b.EmitSingleToDouble(single))
			}
		case 19:
			b.EmitStoreFReg(pick(floats), rng.Intn(8))
		}
	}
	b.EmitBranchUncond(c(0x80003000), uint32(steps))
}

// applyOutcome finishes an evaluator run the way the machine would have.
func applyOutcome(s *guest.State, out ir.Outcome) host.ExitKind {
	switch out.Kind {
	case ir.ExitBranch:
		s.PC = out.Target
		s.Downcount -= int64(out.Cycles)
		return host.ExitDispatch
	case ir.ExitGuard:
		s.PC = out.PC
		return host.ExitException
	}
	panic("unexpected outcome")
}

func TestGeneratedCodeMatchesEvaluator(t *testing.T) {
	arena, err := NewCodeArena(1<<20, 1<<12)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer arena.Free()

	rng := rand.New(rand.NewSource(7))
	b := ir.NewBuilder()
	var m host.Machine
	spilled := 0
	for iter := 0; iter < 300; iter++ {
		randomUnit(rng, b, 20+rng.Intn(120))
		if err := b.Err(); err != nil {
			t.Fatalf("iteration %d: builder: %v", iter, err)
		}
		u := b.Unit()
		live := ir.ComputeLiveness(u)
		arena.Reset()
		gen, err := generate(arena, u, live, 0x80001000)
		if err != nil {
			t.Fatalf("iteration %d: generate: %v\n%s", iter, err, ir.Dump(u, live))
		}
		arena.Commit(gen.size)
		if strings.Contains(host.Disassemble(arena.Code()[:gen.size], 0), "spill") {
			spilled++
		}

		seed := rng.Int63()
		want := newUnitEnv(seed)
		wantExit := applyOutcome(want.state, ir.Eval(u, live, want))

		got := newUnitEnv(seed)
		exit := m.Run(arena.Code(), arena.Consts(), gen.checkedEntry, got.state, got)
		if exit.Kind != wantExit {
			t.Fatalf("iteration %d: exit %s, want %s\n%s", iter, exit.Kind, wantExit, ir.Dump(u, live))
		}
		if diff := cmp.Diff(want.state, got.state); diff != "" {
			t.Fatalf("iteration %d: state mismatch (-eval +host):\n%s\n%s", iter, diff, ir.Dump(u, live))
		}
		if want.ram != got.ram {
			t.Fatalf("iteration %d: memory mismatch\n%s", iter, ir.Dump(u, live))
		}
		if diff := cmp.Diff(want.interpreted, got.interpreted); diff != "" {
			t.Fatalf("iteration %d: fallbacks differ:\n%s", iter, diff)
		}
	}
	if spilled == 0 {
		t.Error("no unit exercised spilling")
	}
}

func TestGenerateLinkSites(t *testing.T) {
	arena, err := NewCodeArena(4096, 16)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer arena.Free()

	b := ir.NewBuilder()
	x := b.EmitLoadGReg(3)
	b.EmitBranchCond(b.EmitICmp(ir.ICmpEq, x, b.EmitIntConst(0)), b.EmitIntConst(0x80000100), 2)
	// a computed target cannot be linked
	b.EmitStoreGReg(b.EmitAdd(x, b.EmitIntConst(1)), 3)
	b.EmitBranchUncond(b.EmitIntConst(0x80000200), 3)
	u := b.Unit()
	gen, err := generate(arena, u, ir.ComputeLiveness(u), 0x80000000)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var targets []uint32
	for _, l := range gen.links {
		targets = append(targets, l.target)
		if got := host.LinkTarget(arena.Code(), l.offset); got != l.target {
			t.Errorf("link at %d encodes %08x, want %08x", l.offset, got, l.target)
		}
	}
	if diff := cmp.Diff([]uint32{0x80000100, 0x80000200}, targets); diff != "" {
		t.Errorf("link targets (-want +got):\n%s", diff)
	}
	if gen.checkedEntry != 0 || gen.normalEntry <= gen.checkedEntry {
		t.Errorf("entries %d/%d", gen.checkedEntry, gen.normalEntry)
	}
}

func TestGenerateArenaFull(t *testing.T) {
	arena, err := NewCodeArena(32, 16)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer arena.Free()

	b := ir.NewBuilder()
	v := b.EmitLoadGReg(1)
	for i := 0; i < 16; i++ {
		v = b.EmitMul(v, b.EmitLoadGReg(2+i))
		b.EmitStoreGReg(v, 2+i)
	}
	b.EmitBranchUncond(b.EmitIntConst(0x80000000), 1)
	u := b.Unit()
	if _, err := generate(arena, u, ir.ComputeLiveness(u), 0x80000000); !errors.Is(err, errArenaFull) {
		t.Errorf("generate = %v, want %v", err, errArenaFull)
	}
	if !isCapacity(errArenaFull) {
		t.Error("a full arena is not a capacity error")
	}
}

// TestOperandsSurviveRegisterPressure fills every host register and then
// consumes two values whose last use is the same node.
func TestOperandsSurviveRegisterPressure(t *testing.T) {
	tests := []struct {
		name string
		last func(b *ir.Builder, x, y ir.Ref)
	}{
		{"checked store", func(b *ir.Builder, x, y ir.Ref) { b.EmitStore(1, x, y, true) }},
		{"unchecked store", func(b *ir.Builder, x, y ir.Ref) { b.EmitStore(4, x, y, false) }},
		{"checked load", func(b *ir.Builder, x, y ir.Ref) {
			b.EmitStoreGReg(b.EmitAdd(b.EmitLoad(4, y, true), x), 20)
		}},
		{"binary", func(b *ir.Builder, x, y ir.Ref) { b.EmitStoreGReg(b.EmitSub(x, y), 20) }},
		{"compare", func(b *ir.Builder, x, y ir.Ref) { b.EmitStoreGReg(b.EmitICmp(ir.ICmpUlt, x, y), 20) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arena, err := NewCodeArena(4096, 16)
			if err != nil {
				t.Fatalf("NewCodeArena: %v", err)
			}
			defer arena.Free()

			b := ir.NewBuilder()
			var l [host.NumRegs]ir.Ref
			for i := range l {
				l[i] = b.EmitLoadGReg(i + 1)
			}
			tt.last(b, l[0], l[4])
			for i, v := range l {
				if i != 0 && i != 4 {
					b.EmitStoreGReg(v, 21+i)
				}
			}
			b.EmitBranchUncond(b.EmitIntConst(0x80003000), 1)
			u := b.Unit()
			live := ir.ComputeLiveness(u)
			gen, err := generate(arena, u, live, 0x80001000)
			if err != nil {
				t.Fatalf("generate: %v\n%s", err, ir.Dump(u, live))
			}
			arena.Commit(gen.size)

			want := newUnitEnv(3)
			want.state.GPR[5] = 0x80000010
			applyOutcome(want.state, ir.Eval(u, live, want))
			got := newUnitEnv(3)
			got.state.GPR[5] = 0x80000010
			var m host.Machine
			if exit := m.Run(arena.Code(), arena.Consts(), gen.checkedEntry, got.state, got); exit.Kind != host.ExitDispatch {
				t.Fatalf("exit %s", exit.Kind)
			}
			if diff := cmp.Diff(want.state, got.state); diff != "" {
				t.Errorf("state mismatch (-eval +host):\n%s", diff)
			}
			if want.ram != got.ram {
				t.Error("memory mismatch")
			}
		})
	}
}

package jit

import (
	"errors"
	"fmt"

	"gekkojit/pkg/jit/host"
	"gekkojit/pkg/jit/ir"
)

var (
	errSpillSlots = errors.New("spill slots exhausted")
	errNoRegister = errors.New("no allocatable register")
	errValueLost  = errors.New("value is neither resident nor spilled")
)

// linkSite is a patchable exit to a constant guest address.
type linkSite struct {
	offset int // absolute arena offset of the link instruction
	target uint32
}

// generated describes host code for one unit. Offsets are absolute within
// the code arena.
type generated struct {
	size         int
	checkedEntry int
	normalEntry  int
	links        []linkSite
}

type codegen struct {
	arena *CodeArena
	asm   *host.Assembler
	base  int

	u    *ir.Unit
	live *ir.Liveness
	ra   *regAlloc
	cur  ir.Ref

	consts map[uint32]uint32 // immediate pool index -> arena constant index
	links  []linkSite
}

var condOf = map[ir.Opcode]host.Cond{
	ir.ICmpEq:  host.CondEq,
	ir.ICmpNe:  host.CondNe,
	ir.ICmpUgt: host.CondUgt,
	ir.ICmpUlt: host.CondUlt,
	ir.ICmpUge: host.CondUge,
	ir.ICmpUle: host.CondUle,
	ir.ICmpSgt: host.CondSgt,
	ir.ICmpSlt: host.CondSlt,
	ir.ICmpSge: host.CondSge,
	ir.ICmpSle: host.CondSle,
}

var aluOf = map[ir.Opcode]host.Op{
	ir.Add:  host.OpAddRR,
	ir.Sub:  host.OpSubRR,
	ir.Mul:  host.OpMulRR,
	ir.And:  host.OpAndRR,
	ir.Or:   host.OpOrRR,
	ir.Xor:  host.OpXorRR,
	ir.Shl:  host.OpShlRR,
	ir.Shrl: host.OpShrRR,
	ir.Sarl: host.OpSarRR,
	ir.Rol:  host.OpRolRR,
}

var unaryOf = map[ir.Opcode]host.Op{
	ir.Not:             host.OpNot,
	ir.Neg:             host.OpNeg,
	ir.SExt8:           host.OpSext8,
	ir.SExt16:          host.OpSext16,
	ir.Cntlzw:          host.OpClz,
	ir.FNeg:            host.OpFNeg,
	ir.FRoundSingle:    host.OpFRound,
	ir.FDoubleToSingle: host.OpF2S,
	ir.FSingleToDouble: host.OpS2F,
}

var floatOf = map[ir.Opcode]host.Op{
	ir.FAdd: host.OpFAdd,
	ir.FSub: host.OpFSub,
	ir.FMul: host.OpFMul,
	ir.FDiv: host.OpFDiv,
}

var guardOf = map[ir.Opcode]host.Op{
	ir.FPExceptionCheck:  host.OpGuardFP,
	ir.DSIExceptionCheck: host.OpGuardDSI,
	ir.ExceptionCheck:    host.OpGuardAny,
	ir.BreakPointCheck:   host.OpGuardBreak,
	ir.SystemCall:        host.OpSyscall,
}

// generate lowers u into the free tail of the arena. Nothing is committed;
// on error the caller rolls the constant region back.
func generate(arena *CodeArena, u *ir.Unit, live *ir.Liveness, start uint32) (*generated, error) {
	base, free := arena.Reserve()
	g := &codegen{
		arena:  arena,
		asm:    host.NewAssembler(free),
		base:   base,
		u:      u,
		live:   live,
		consts: make(map[uint32]uint32),
	}
	g.ra = newRegAlloc(g, u.Len())

	out := &generated{checkedEntry: base}
	g.asm.Guard(host.OpCheckDowncount, start)
	out.normalEntry = base + g.asm.Offset()

	terminated := false
	for i := 1; i < u.Len(); i++ {
		g.cur = ir.Ref(i)
		op := u.Op(g.cur)
		if op == ir.Nop || op == ir.Tramp || !live.Used(g.cur) {
			continue
		}
		if err := g.node(op); err != nil {
			return nil, fmt.Errorf("node %d (%s): %w", i, op, err)
		}
		g.ra.unlockAll()
		g.releaseDead()
		terminated = op == ir.BranchUncond || op == ir.InterpreterBranch || op == ir.SystemCall
		if g.asm.Overflowed() {
			return nil, errArenaFull
		}
	}
	if !terminated {
		return nil, fmt.Errorf("unit at 0x%08x does not end in an exit", start)
	}
	out.size = g.asm.Offset()
	out.links = g.links
	return out, nil
}

var errArenaFull = errors.New("code arena full")

func (g *codegen) releaseDead() {
	for _, o := range [2]ir.Ref{g.u.Op1(g.cur), g.u.Op2(g.cur)} {
		if o != 0 && g.live.LastUse(o) == g.cur {
			g.ra.release(o)
		}
	}
	if g.live.LastUse(g.cur) == 0 {
		g.ra.release(g.cur)
	}
}

func (g *codegen) constIndex(v ir.Ref) (uint32, error) {
	pool := g.u.Node(v).Imm
	if idx, ok := g.consts[pool]; ok {
		return idx, nil
	}
	idx, ok := g.arena.AddConst(g.u.Const(v))
	if !ok {
		return 0, errConstsFull
	}
	g.consts[pool] = idx
	return idx, nil
}

var errConstsFull = errors.New("constant region full")

func (g *codegen) isImm(v ir.Ref) bool { return g.u.IsIntConst(v) }

func (g *codegen) imm(v ir.Ref) uint32 { return g.u.IntConst(v) }

// twoAddress prepares dst = x for an in-place operation.
func (g *codegen) twoAddress(x ir.Ref) (host.Reg, error) {
	xr, err := g.ra.use(x, false)
	if err != nil {
		return 0, err
	}
	if g.live.LastUse(x) == g.cur && g.u.Op2(g.cur) != x {
		return g.ra.takeOver(x, g.cur), nil
	}
	dst, err := g.ra.define(g.cur)
	if err != nil {
		return 0, err
	}
	g.asm.MovRegReg(dst, xr)
	return dst, nil
}

func (g *codegen) node(op ir.Opcode) error {
	a := g.asm
	n := g.u.Node(g.cur)
	x, y := g.u.Op1(g.cur), g.u.Op2(g.cur)

	switch {
	case op.IsConst():
		// materialized lazily by the consumers
		return nil

	case op >= ir.LoadGReg && op <= ir.LoadMSR:
		dst, err := g.ra.define(g.cur)
		if err != nil {
			return err
		}
		a.LoadContext(dst, uint8(ir.RegisterSlot(op, n.Imm)))
		return nil

	case op >= ir.StoreGReg && op <= ir.StoreLR:
		slot := uint8(ir.RegisterSlot(op, n.Imm))
		if g.isImm(x) {
			a.StoreContextImm32(slot, g.imm(x))
			return nil
		}
		r, err := g.ra.use(x, false)
		if err != nil {
			return err
		}
		a.StoreContext(slot, r)
		return nil

	case unaryOf[op] != host.OpInvalid:
		dst, err := g.twoAddress(x)
		if err != nil {
			return err
		}
		a.Unary(unaryOf[op], dst)
		return nil

	case aluOf[op] != host.OpInvalid:
		return g.binary(aluOf[op], x, y)

	case floatOf[op] != host.OpInvalid:
		yr, err := g.ra.use(y, false)
		if err != nil {
			return err
		}
		dst, err := g.twoAddress(x)
		if err != nil {
			return err
		}
		a.FloatRegReg(floatOf[op], dst, yr)
		return nil

	case op.IsCompare(), op == ir.ICmpCRSigned, op == ir.ICmpCRUnsigned:
		return g.compare(op, x, y)

	case op >= ir.Load8 && op <= ir.Load64:
		return g.load(op, n, x)

	case op >= ir.Store8 && op <= ir.Store64:
		return g.store(op, n, x, y)

	case guardOf[op] != host.OpInvalid:
		a.Guard(guardOf[op], n.Imm)
		return nil

	case op == ir.InterpreterFallback:
		if err := g.ra.flushCallerSaved(); err != nil {
			return err
		}
		raw, pc := g.u.FallbackInstruction(g.cur)
		a.CallInterpreter(raw, pc)
		g.ra.clobbered(noReg)
		return nil

	case op == ir.InterpreterBranch:
		a.SubDowncount(n.Imm)
		a.ExitNPC()
		return nil

	case op == ir.BranchUncond:
		return g.exit(x, n.Imm, noReg)

	case op == ir.BranchCond:
		var tr host.Reg = noReg
		if !g.isImm(y) {
			r, err := g.ra.use(y, false)
			if err != nil {
				return err
			}
			tr = r
		}
		cr, err := g.ra.use(x, false)
		if err != nil {
			return err
		}
		skip := a.JumpIfZero(cr)
		if err := g.exit(y, n.Imm, tr); err != nil {
			return err
		}
		a.Bind(skip)
		return nil
	}
	return fmt.Errorf("no lowering for %s", op)
}

const noReg host.Reg = 0xFF

// exit charges cycles and leaves for target: through a link site when the
// target is constant, through the dispatcher otherwise. tr is the register
// already holding a non-constant target.
func (g *codegen) exit(target ir.Ref, cycles uint32, tr host.Reg) error {
	a := g.asm
	if g.isImm(target) {
		a.SubDowncount(cycles)
		at := g.base + a.Offset()
		a.Link(g.imm(target))
		g.links = append(g.links, linkSite{offset: at, target: g.imm(target)})
		return nil
	}
	if tr == noReg {
		r, err := g.ra.use(target, false)
		if err != nil {
			return err
		}
		tr = r
	}
	a.SubDowncount(cycles)
	a.ExitReg(tr)
	return nil
}

func (g *codegen) binary(op host.Op, x, y ir.Ref) error {
	if g.isImm(y) {
		dst, err := g.twoAddress(x)
		if err != nil {
			return err
		}
		g.asm.ALURegImm32(op, dst, g.imm(y))
		return nil
	}
	yr, err := g.ra.use(y, false)
	if err != nil {
		return err
	}
	dst, err := g.twoAddress(x)
	if err != nil {
		return err
	}
	g.asm.ALURegReg(op, dst, yr)
	return nil
}

func (g *codegen) compare(op ir.Opcode, x, y ir.Ref) error {
	xr, err := g.ra.use(x, false)
	if err != nil {
		return err
	}
	var yr host.Reg
	if !g.isImm(y) {
		if yr, err = g.ra.use(y, false); err != nil {
			return err
		}
	}
	dst, err := g.ra.define(g.cur)
	if err != nil {
		return err
	}
	signed := op == ir.ICmpCRSigned
	switch {
	case op.IsCompare() && g.isImm(y):
		g.asm.SetCCImm32(condOf[op], dst, xr, g.imm(y))
	case op.IsCompare():
		g.asm.SetCC(condOf[op], dst, xr, yr)
	case g.isImm(y):
		g.asm.CmpCRImm32(signed, dst, xr, g.imm(y))
	default:
		g.asm.CmpCR(signed, dst, xr, yr)
	}
	return nil
}

func (g *codegen) load(op ir.Opcode, n ir.Node, addr ir.Ref) error {
	size := uint8(ir.AccessSize(op))
	if n.Imm&ir.MemChecked != 0 {
		if err := g.ra.flushCallerSaved(); err != nil {
			return err
		}
		ar, err := g.ra.use(addr, true)
		if err != nil {
			return err
		}
		dst, err := g.ra.define(g.cur)
		if err != nil {
			return err
		}
		g.asm.CallLoad(size, dst, ar)
		g.ra.clobbered(dst)
		return nil
	}
	if g.isImm(addr) {
		dst, err := g.ra.define(g.cur)
		if err != nil {
			return err
		}
		g.asm.LoadMemAbs(size, dst, g.imm(addr))
		return nil
	}
	ar, err := g.ra.use(addr, false)
	if err != nil {
		return err
	}
	dst, err := g.ra.define(g.cur)
	if err != nil {
		return err
	}
	g.asm.LoadMem(size, dst, ar, 0)
	return nil
}

func (g *codegen) store(op ir.Opcode, n ir.Node, v, addr ir.Ref) error {
	size := uint8(ir.AccessSize(op))
	if n.Imm&ir.MemChecked != 0 {
		if err := g.ra.flushCallerSaved(); err != nil {
			return err
		}
		vr, err := g.ra.use(v, true)
		if err != nil {
			return err
		}
		ar, err := g.ra.use(addr, true)
		if err != nil {
			return err
		}
		g.asm.CallStore(size, vr, ar)
		g.ra.clobbered(noReg)
		return nil
	}
	vr, err := g.ra.use(v, false)
	if err != nil {
		return err
	}
	if g.isImm(addr) {
		g.asm.StoreMemAbs(size, vr, g.imm(addr))
		return nil
	}
	ar, err := g.ra.use(addr, false)
	if err != nil {
		return err
	}
	g.asm.StoreMem(size, vr, ar, 0)
	return nil
}

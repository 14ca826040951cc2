package interpreter

import (
	"math"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/ppc"
)

// FPSCR is not modeled: Rc forms do not update cr1 and no floating point
// exception is ever raised besides FP-unavailable.

func handleFloatArith(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a := float64Of(s.FPR[inst.RA()])
	var r float64
	switch inst.XOA() {
	case ppc.XOFADD:
		r = a + float64Of(s.FPR[inst.RB()])
	case ppc.XOFSUB:
		r = a - float64Of(s.FPR[inst.RB()])
	case ppc.XOFMUL:
		r = a * float64Of(s.FPR[inst.RC()])
	case ppc.XOFDIV:
		r = a / float64Of(s.FPR[inst.RB()])
	}
	v := math.Float64bits(r)
	if inst.OPCD() == ppc.OpGroup59 {
		v = RoundSingle(v)
	}
	s.FPR[inst.RD()] = v
}

func handleFloatMove(in *Interpreter, inst ppc.Inst) {
	s := in.State
	b := s.FPR[inst.RB()]
	switch inst.XO() {
	case ppc.XO63FNEG:
		b ^= 1 << 63
	case ppc.XO63FABS:
		b &^= 1 << 63
	case ppc.XO63FRSP:
		b = RoundSingle(b)
	}
	s.FPR[inst.RD()] = b
}

func handleFcmpu(in *Interpreter, inst ppc.Inst) {
	s := in.State
	a, b := float64Of(s.FPR[inst.RA()]), float64Of(s.FPR[inst.RB()])
	var f uint8
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		f = guest.CRSO
	case a < b:
		f = guest.CRLT
	case a > b:
		f = guest.CRGT
	default:
		f = guest.CREQ
	}
	s.CR[inst.CRFD()] = f
}

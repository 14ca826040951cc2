package interpreter

import (
	"math"

	"gekkojit/pkg/ppc"
)

type access struct {
	size   int
	store  bool
	update bool
	signed bool
}

var loadStoreForms = map[uint32]access{
	ppc.OpLWZ:  {size: 4},
	ppc.OpLWZU: {size: 4, update: true},
	ppc.OpLBZ:  {size: 1},
	ppc.OpLBZU: {size: 1, update: true},
	ppc.OpSTW:  {size: 4, store: true},
	ppc.OpSTWU: {size: 4, store: true, update: true},
	ppc.OpSTB:  {size: 1, store: true},
	ppc.OpSTBU: {size: 1, store: true, update: true},
	ppc.OpLHZ:  {size: 2},
	ppc.OpLHZU: {size: 2, update: true},
	ppc.OpLHA:  {size: 2, signed: true},
	ppc.OpLHAU: {size: 2, signed: true, update: true},
	ppc.OpSTH:  {size: 2, store: true},
	ppc.OpSTHU: {size: 2, store: true, update: true},
}

var indexedForms = map[uint32]access{
	ppc.XO31LWZX:  {size: 4},
	ppc.XO31LWZUX: {size: 4, update: true},
	ppc.XO31LBZX:  {size: 1},
	ppc.XO31LBZUX: {size: 1, update: true},
	ppc.XO31STWX:  {size: 4, store: true},
	ppc.XO31STWUX: {size: 4, store: true, update: true},
	ppc.XO31STBX:  {size: 1, store: true},
	ppc.XO31STBUX: {size: 1, store: true, update: true},
	ppc.XO31LHZX:  {size: 2},
	ppc.XO31LHAX:  {size: 2, signed: true},
	ppc.XO31STHX:  {size: 2, store: true},
}

// LoadStoreForm describes the integer access performed by inst, if any.
func LoadStoreForm(inst ppc.Inst) (size int, store, update, signed, ok bool) {
	var a access
	if inst.OPCD() == ppc.OpGroup31 {
		a, ok = indexedForms[inst.XO()]
	} else {
		a, ok = loadStoreForms[inst.OPCD()]
	}
	return a.size, a.store, a.update, a.signed, ok
}

func (in *Interpreter) transfer(inst ppc.Inst, a access, ea uint32) {
	s := in.State
	if a.store {
		if !in.Mem.Write(ea, a.size, uint64(s.GPR[inst.RS()])) {
			s.RaiseDSI(ea, true)
			return
		}
	} else {
		v, ok := in.Mem.Read(ea, a.size)
		if !ok {
			s.RaiseDSI(ea, false)
			return
		}
		if a.signed {
			v = uint64(uint32(int32(int16(v))))
		}
		s.GPR[inst.RD()] = uint32(v)
	}
	if a.update {
		s.GPR[inst.RA()] = ea
	}
}

func handleLoadStore(in *Interpreter, inst ppc.Inst) {
	a := loadStoreForms[inst.OPCD()]
	ea := in.gprOrZero(inst.RA()) + uint32(inst.SIMM())
	if a.update {
		ea = in.State.GPR[inst.RA()] + uint32(inst.SIMM())
	}
	in.transfer(inst, a, ea)
}

func handleLoadStoreIndexed(in *Interpreter, inst ppc.Inst) {
	a := indexedForms[inst.XO()]
	ea := in.gprOrZero(inst.RA()) + in.State.GPR[inst.RB()]
	if a.update {
		ea = in.State.GPR[inst.RA()] + in.State.GPR[inst.RB()]
	}
	in.transfer(inst, a, ea)
}

func handleLoadStoreMultiple(in *Interpreter, inst ppc.Inst) {
	s := in.State
	ea := in.gprOrZero(inst.RA()) + uint32(inst.SIMM())
	if !in.Mem.IsRAM(ea, uint32(32-inst.RD())*4) {
		s.RaiseDSI(ea, inst.OPCD() == ppc.OpSTMW)
		return
	}
	for r := inst.RD(); r < 32; r++ {
		if inst.OPCD() == ppc.OpSTMW {
			in.Mem.Write32(ea, s.GPR[r])
		} else {
			s.GPR[r], _ = in.Mem.Read32(ea)
		}
		ea += 4
	}
}

func handleFloatLoadStore(in *Interpreter, inst ppc.Inst) {
	s := in.State
	op := inst.OPCD()
	update := op&1 != 0
	ea := in.gprOrZero(inst.RA()) + uint32(inst.SIMM())
	if update {
		ea = s.GPR[inst.RA()] + uint32(inst.SIMM())
	}
	switch op {
	case ppc.OpLFS, ppc.OpLFSU:
		v, ok := in.Mem.Read32(ea)
		if !ok {
			s.RaiseDSI(ea, false)
			return
		}
		s.FPR[inst.RD()] = SingleToDouble(v)
	case ppc.OpLFD, ppc.OpLFDU:
		v, ok := in.Mem.Read64(ea)
		if !ok {
			s.RaiseDSI(ea, false)
			return
		}
		s.FPR[inst.RD()] = v
	case ppc.OpSTFS, ppc.OpSTFSU:
		if !in.Mem.Write32(ea, DoubleToSingle(s.FPR[inst.RS()])) {
			s.RaiseDSI(ea, true)
			return
		}
	case ppc.OpSTFD, ppc.OpSTFDU:
		if !in.Mem.Write64(ea, s.FPR[inst.RS()]) {
			s.RaiseDSI(ea, true)
			return
		}
	}
	if update {
		s.GPR[inst.RA()] = ea
	}
}

// SingleToDouble widens an IEEE-754 single bit pattern to a double bit pattern.
func SingleToDouble(v uint32) uint64 {
	return math.Float64bits(float64(math.Float32frombits(v)))
}

// DoubleToSingle narrows a double bit pattern to single precision.
func DoubleToSingle(v uint64) uint32 {
	return math.Float32bits(float32(math.Float64frombits(v)))
}

// RoundSingle rounds a double to single precision and widens it back.
func RoundSingle(v uint64) uint64 {
	return math.Float64bits(float64(float32(math.Float64frombits(v))))
}

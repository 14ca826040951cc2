package ir

import "math/bits"

const allOnes = 0xFFFFFFFF

// complexity orders operands of commutative nodes: constants are the least
// complex and sort second.
func complexity(op Opcode) int {
	switch {
	case op.IsConst():
		return 0
	case op.Arity() < 2:
		return 1
	}
	return 2
}

func (b *Builder) isConst(r Ref) bool { return b.u.IsIntConst(r) }
func (b *Builder) c(r Ref) uint32     { return b.u.IntConst(r) }
func (b *Builder) op1(r Ref) Ref      { return b.u.Op1(r) }
func (b *Builder) op2(r Ref) Ref      { return b.u.Op2(r) }

// same reports whether x and y are known to hold the same value.
func (b *Builder) same(x, y Ref) bool {
	if x == y {
		return true
	}
	return b.isConst(x) && b.isConst(y) && b.c(x) == b.c(y)
}

// simplifyCommutative puts the less complex operand second and regroups
// constants of associative operations:
//
//	(x op c1) op c2        => x op (c1 op c2)
//	(x op c1) op (y op c2) => (x op y) op (c1 op c2)
func (b *Builder) simplifyCommutative(op Opcode, x, y *Ref) {
	if complexity(b.op(*x)) < complexity(b.op(*y)) {
		*x, *y = *y, *x
	}
	if !op.associative() || b.op(*x) != op || !b.isConst(b.op2(*x)) {
		return
	}
	ox, oy := *x, *y
	switch {
	case b.isConst(oy):
		*x = b.op1(ox)
		*y = b.FoldBinary(op, b.op2(ox), oy)
	case b.op(oy) == op && b.isConst(b.op2(oy)):
		*x = b.FoldBinary(op, b.op1(ox), b.op1(oy))
		*y = b.FoldBinary(op, b.op2(ox), b.op2(oy))
	}
}

// FoldUnary emits op applied to x after applying the fold rules.
func (b *Builder) FoldUnary(op Opcode, x Ref) Ref {
	if !b.fold {
		return b.emit(op, x, 0, 0)
	}
	if b.isConst(x) {
		return b.EmitIntConst(EvalUnary(op, b.c(x)))
	}
	switch op {
	case Not, Neg:
		// double negation cancels
		if b.op(x) == op {
			return b.op1(x)
		}
	case SExt8, SExt16:
		if b.op(x) == op {
			return x
		}
	}
	return b.emit(op, x, 0, 0)
}

// FoldBinary emits op applied to x and y after applying the fold rules.
func (b *Builder) FoldBinary(op Opcode, x, y Ref) Ref {
	if !b.fold {
		return b.emit(op, x, y, 0)
	}
	switch op {
	case Add:
		return b.foldAdd(x, y)
	case Sub:
		return b.foldSub(x, y)
	case Mul:
		return b.foldMul(x, y)
	case And:
		return b.foldAnd(x, y)
	case Or:
		return b.foldOr(x, y)
	case Xor:
		return b.foldXor(x, y)
	case Shl, Shrl, Sarl, Rol:
		return b.foldShift(op, x, y)
	case ICmpCRSigned, ICmpCRUnsigned:
		return b.foldICmpCR(op, x, y)
	}
	if op.IsCompare() {
		return b.foldICmp(op, x, y)
	}
	return b.emit(op, x, y, 0)
}

func (b *Builder) foldAdd(x, y Ref) Ref {
	b.simplifyCommutative(Add, &x, &y)
	if b.isConst(y) {
		if b.isConst(x) {
			return b.EmitIntConst(b.c(x) + b.c(y))
		}
		if b.c(y) == 0 {
			return x
		}
	}
	// (x - y) + y => x
	if b.op(x) == Sub && b.same(b.op2(x), y) {
		return b.op1(x)
	}
	// x + (y - x) => y
	if b.op(y) == Sub && b.same(b.op2(y), x) {
		return b.op1(y)
	}
	// (x * c) + x => x * (c + 1)
	if b.op(x) == Mul && b.isConst(b.op2(x)) && b.same(b.op1(x), y) {
		return b.foldMul(y, b.EmitIntConst(b.c(b.op2(x))+1))
	}
	if b.op(y) == Mul && b.isConst(b.op2(y)) && b.same(b.op1(y), x) {
		return b.foldMul(x, b.EmitIntConst(b.c(b.op2(y))+1))
	}
	// x + x => x << 1
	if b.same(x, y) {
		return b.foldShift(Shl, x, b.EmitIntConst(1))
	}
	return b.emit(Add, x, y, 0)
}

func (b *Builder) foldSub(x, y Ref) Ref {
	if b.isConst(y) {
		if b.isConst(x) {
			return b.EmitIntConst(b.c(x) - b.c(y))
		}
		return b.foldAdd(x, b.EmitIntConst(-b.c(y)))
	}
	if b.same(x, y) {
		return b.EmitIntConst(0)
	}
	// (x + y) - x => y and (x + y) - y => x
	if b.op(x) == Add {
		if b.same(b.op1(x), y) {
			return b.op2(x)
		}
		if b.same(b.op2(x), y) {
			return b.op1(x)
		}
	}
	// x - (x - y) => y
	if b.op(y) == Sub && b.same(b.op1(y), x) {
		return b.op2(y)
	}
	// 0 - x => -x
	if b.isConst(x) && b.c(x) == 0 {
		return b.FoldUnary(Neg, y)
	}
	return b.emit(Sub, x, y, 0)
}

func (b *Builder) foldMul(x, y Ref) Ref {
	b.simplifyCommutative(Mul, &x, &y)
	if b.isConst(y) {
		cy := b.c(y)
		switch {
		case b.isConst(x):
			return b.EmitIntConst(b.c(x) * cy)
		case cy == 0:
			return y
		case cy == 1:
			return x
		case cy&(cy-1) == 0:
			return b.foldShift(Shl, x, b.EmitIntConst(uint32(bits.TrailingZeros32(cy))))
		}
	}
	return b.emit(Mul, x, y, 0)
}

func (b *Builder) foldAnd(x, y Ref) Ref {
	b.simplifyCommutative(And, &x, &y)
	if b.isConst(y) {
		cy := b.c(y)
		switch {
		case b.isConst(x):
			return b.EmitIntConst(b.c(x) & cy)
		case cy == 0:
			return y
		case cy == allOnes:
			return x
		case cy == 1 && b.op(x).IsCompare():
			return x
		}
	}
	if b.same(x, y) {
		return x
	}
	return b.emit(And, x, y, 0)
}

func (b *Builder) foldOr(x, y Ref) Ref {
	b.simplifyCommutative(Or, &x, &y)
	if b.isConst(y) {
		cy := b.c(y)
		switch {
		case b.isConst(x):
			return b.EmitIntConst(b.c(x) | cy)
		case cy == 0:
			return x
		case cy == allOnes:
			return y
		}
	}
	if b.same(x, y) {
		return x
	}
	return b.emit(Or, x, y, 0)
}

func (b *Builder) foldXor(x, y Ref) Ref {
	b.simplifyCommutative(Xor, &x, &y)
	if b.isConst(y) {
		cy := b.c(y)
		switch {
		case b.isConst(x):
			return b.EmitIntConst(b.c(x) ^ cy)
		case cy == 0:
			return x
		case cy == allOnes:
			return b.FoldUnary(Not, x)
		case cy == 1 && b.op(x).IsCompare():
			return b.foldICmp(invertCompare[b.op(x)], b.op1(x), b.op2(x))
		}
	}
	if b.same(x, y) {
		return b.EmitIntConst(0)
	}
	return b.emit(Xor, x, y, 0)
}

func (b *Builder) foldShift(op Opcode, x, y Ref) Ref {
	if !b.isConst(y) {
		return b.emit(op, x, y, 0)
	}
	n := b.c(y) & 31
	if b.isConst(x) {
		return b.EmitIntConst(EvalBinary(op, b.c(x), n))
	}
	if n == 0 {
		return x
	}
	if b.op(x) == op && b.isConst(b.op2(x)) {
		inner := b.op1(x)
		m := b.c(b.op2(x)) & 31
		switch op {
		case Shl, Shrl:
			if n+m >= 32 {
				return b.EmitIntConst(0)
			}
			return b.emit(op, inner, b.EmitIntConst(n+m), 0)
		case Sarl:
			return b.emit(op, inner, b.EmitIntConst(min(n+m, 31)), 0)
		case Rol:
			return b.foldShift(Rol, inner, b.EmitIntConst((n+m)&31))
		}
	}
	if n != b.c(y) {
		y = b.EmitIntConst(n)
	}
	return b.emit(op, x, y, 0)
}

var invertCompare = map[Opcode]Opcode{
	ICmpEq: ICmpNe, ICmpNe: ICmpEq,
	ICmpUgt: ICmpUle, ICmpUle: ICmpUgt,
	ICmpUlt: ICmpUge, ICmpUge: ICmpUlt,
	ICmpSgt: ICmpSle, ICmpSle: ICmpSgt,
	ICmpSlt: ICmpSge, ICmpSge: ICmpSlt,
}

// crBitCompare maps a condition field bit to the comparison that sets it.
func crBitCompare(signed bool, bit uint32) (Opcode, bool) {
	switch bit {
	case 8:
		if signed {
			return ICmpSlt, true
		}
		return ICmpUlt, true
	case 4:
		if signed {
			return ICmpSgt, true
		}
		return ICmpUgt, true
	case 2:
		return ICmpEq, true
	}
	return 0, false
}

func (b *Builder) foldICmp(op Opcode, x, y Ref) Ref {
	if op.commutative() {
		b.simplifyCommutative(op, &x, &y)
	}
	if b.isConst(x) && b.isConst(y) {
		return b.EmitIntConst(EvalBinary(op, b.c(x), b.c(y)))
	}
	if b.same(x, y) {
		return b.EmitIntConst(EvalBinary(op, 0, 0))
	}
	// (crcmp(a, b) & bit) != 0 tests one relation of a and b directly.
	if (op == ICmpNe || op == ICmpEq) && b.isConst(y) && b.c(y) == 0 &&
		b.op(x) == And && b.isConst(b.op2(x)) {
		cmp := b.op1(x)
		if k := b.op(cmp); k == ICmpCRSigned || k == ICmpCRUnsigned {
			bit := b.c(b.op2(x))
			if bit == 1 {
				// summary overflow is never set by a comparison
				return b.EmitIntConst(EvalBinary(op, 0, 0))
			}
			if rel, ok := crBitCompare(k == ICmpCRSigned, bit); ok {
				if op == ICmpEq {
					rel = invertCompare[rel]
				}
				return b.foldICmp(rel, b.op1(cmp), b.op2(cmp))
			}
		}
	}
	return b.emit(op, x, y, 0)
}

func (b *Builder) foldICmpCR(op Opcode, x, y Ref) Ref {
	if b.isConst(x) && b.isConst(y) {
		return b.EmitIntConst(EvalBinary(op, b.c(x), b.c(y)))
	}
	if b.same(x, y) {
		return b.EmitIntConst(crEQ)
	}
	return b.emit(op, x, y, 0)
}

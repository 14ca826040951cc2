package ir

// Liveness is the result of the usage pass over one unit.
type Liveness struct {
	used    []uint64
	lastUse []Ref
}

// Used reports whether r must be generated.
func (l *Liveness) Used(r Ref) bool { return l.used[r>>6]&(1<<(r&63)) != 0 }

// LastUse returns the last node consuming r, or 0 when nothing does.
func (l *Liveness) LastUse(r Ref) Ref { return l.lastUse[r] }

func (l *Liveness) mark(r Ref) { l.used[r>>6] |= 1 << (r & 63) }

// Count returns the number of used nodes.
func (l *Liveness) Count() int {
	n := 0
	for i := 1; i < len(l.lastUse); i++ {
		if l.Used(Ref(i)) {
			n++
		}
	}
	return n
}

// HasEffect reports whether n is live regardless of its consumers. A
// checked load may fault, so it is kept even when its value is dead.
func (n Node) HasEffect() bool {
	if n.Op.HasEffect() {
		return true
	}
	return n.Op >= Load8 && n.Op <= Load64 && n.Imm&MemChecked != 0
}

// ComputeLiveness marks every node that has an effect or feeds a used node
// and records the last consumer of each value. Operands always point
// backwards, so walking from the end sees every consumer of a node before
// the node itself. The result is the same as a forward scan repeated until
// nothing changes, in one pass. The unit is not modified.
func ComputeLiveness(u *Unit) *Liveness {
	l := &Liveness{
		used:    make([]uint64, (len(u.Nodes)+63)/64),
		lastUse: make([]Ref, len(u.Nodes)),
	}
	for i := len(u.Nodes) - 1; i > 0; i-- {
		r := Ref(i)
		n := u.Nodes[i]
		if n.Op == Nop || n.Op == Tramp {
			continue
		}
		if !n.HasEffect() && !l.Used(r) {
			continue
		}
		l.mark(r)
		for _, o := range [2]Ref{u.Op1(r), u.Op2(r)} {
			if o == 0 {
				continue
			}
			l.mark(o)
			if l.lastUse[o] == 0 {
				l.lastUse[o] = r
			}
		}
	}
	return l
}

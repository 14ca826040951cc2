package ir

import (
	"fmt"
	"strings"
)

// Dump renders u one node per line. Dead nodes are prefixed with '-' when
// live is non-nil.
func Dump(u *Unit, live *Liveness) string {
	var sb strings.Builder
	for i := 1; i < len(u.Nodes); i++ {
		r := Ref(i)
		n := u.Nodes[i]
		mark := ' '
		if live != nil && n.Op != Tramp && !live.Used(r) {
			mark = '-'
		}
		fmt.Fprintf(&sb, "%c%4d  %-20s", mark, i, n.Op)
		switch {
		case n.Op == CInt:
			fmt.Fprintf(&sb, " 0x%x", n.Imm)
		case n.Op == CWide:
			fmt.Fprintf(&sb, " 0x%x", u.Pool[n.Imm])
		case n.Op == Tramp:
			fmt.Fprintf(&sb, " -> %d", n.Imm)
		case n.Op == InterpreterFallback:
			raw, pc := u.FallbackInstruction(r)
			fmt.Fprintf(&sb, " %08x @ %08x", raw, pc)
		default:
			if x := u.Op1(r); x != 0 {
				fmt.Fprintf(&sb, " %%%d", x)
			}
			if y := u.Op2(r); y != 0 {
				fmt.Fprintf(&sb, " %%%d", y)
			}
			if n.Imm != 0 {
				fmt.Fprintf(&sb, " #%x", n.Imm)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

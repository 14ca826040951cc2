package ir

import (
	"math/rand"
	"testing"
)

// forwardUsed recomputes the used set by scanning forward until no node
// changes.
func forwardUsed(u *Unit) []bool {
	used := make([]bool, len(u.Nodes))
	for changed := true; changed; {
		changed = false
		for i := 1; i < len(u.Nodes); i++ {
			r := Ref(i)
			n := u.Nodes[i]
			if n.Op == Nop || n.Op == Tramp {
				continue
			}
			if !used[i] && n.HasEffect() {
				used[i], changed = true, true
			}
			if !used[i] {
				continue
			}
			for _, o := range [2]Ref{u.Op1(r), u.Op2(r)} {
				if o != 0 && !used[o] {
					used[o], changed = true, true
				}
			}
		}
	}
	return used
}

func TestLivenessMatchesForwardScan(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for iter := 0; iter < 300; iter++ {
		b := NewBuilder()
		b.SetFolding(rng.Intn(2) == 0)
		build(b, randomRecipe(rng, 10+rng.Intn(60)))
		u := b.Unit()
		live := ComputeLiveness(u)
		want := forwardUsed(u)
		for i := 1; i < len(u.Nodes); i++ {
			if live.Used(Ref(i)) != want[i] {
				t.Fatalf("iteration %d: node %d used = %v, forward scan says %v\n%s",
					iter, i, live.Used(Ref(i)), want[i], Dump(u, live))
			}
		}
	}
}

package savestate

import (
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/memory"
)

type countingLoader struct{ loads int }

func (l *countingLoader) OnStateLoaded() { l.loads++ }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGuest(t *testing.T) (*guest.State, *memory.Memory) {
	t.Helper()
	mem, err := memory.New(64 << 10)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	st := &guest.State{}
	st.Reset(0x80003100)
	return st, mem
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	st.GPR[3], st.FPR[1], st.LR, st.CTR = 0x1234, 0x400921FB54442D18, 0x80003000, 7
	st.SetCRWord(0x20000000)
	st.Downcount = 99
	mem.Write32(0x80000040, 0xCAFEBABE)
	mem.Write32(0x8000FFFC, 0x01020304)

	info, err := store.Save("boot", st, mem)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := *st

	// clobber everything, then come back
	st.Reset(0)
	mem.Write32(0x80000040, 0)
	loader := &countingLoader{}
	snap, err := store.Load("boot")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.ID != info.ID || snap.RAMSize != 64<<10 {
		t.Errorf("info = %+v, saved %+v", snap.Info, info)
	}
	if err := snap.Restore(st, mem, loader); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if diff := cmp.Diff(want, *st); diff != "" {
		t.Errorf("state (-saved +restored):\n%s", diff)
	}
	if v, _ := mem.Read32(0x80000040); v != 0xCAFEBABE {
		t.Errorf("ram word = %08x, want cafebabe", v)
	}
	if v, _ := mem.Read32(0x8000FFFC); v != 0x01020304 {
		t.Errorf("last ram word = %08x", v)
	}
	if loader.loads != 1 {
		t.Errorf("loader notified %d times, want 1", loader.loads)
	}
}

func TestSaveReplacesSlot(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	first, err := store.Save("a", st, mem)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	st.GPR[1] = 5
	second, err := store.Save("a", st, mem)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.ID == second.ID {
		t.Error("snapshots share an id")
	}
	snap, err := store.Load("a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.ID != second.ID || snap.State.GPR[1] != 5 {
		t.Errorf("loaded %v with r1 %d, want the second snapshot", snap.ID, snap.State.GPR[1])
	}
}

func TestListAndDelete(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	for _, slot := range []string{"b", "a", "c"} {
		if _, err := store.Save(slot, st, mem); err != nil {
			t.Fatalf("Save %s: %v", slot, err)
		}
	}
	if err := store.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var slots []string
	for _, info := range infos {
		slots = append(slots, info.Slot)
	}
	if diff := cmp.Diff([]string{"a", "c"}, slots); diff != "" {
		t.Errorf("slots (-want +got):\n%s", diff)
	}
	if _, err := store.Load("b"); !stderrors.Is(err, ErrNoSnapshot) {
		t.Errorf("Load deleted slot = %v, want ErrNoSnapshot", err)
	}
	if err := store.Delete("b"); !stderrors.Is(err, ErrNoSnapshot) {
		t.Errorf("Delete twice = %v", err)
	}
}

func TestCorruptSnapshot(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	if _, err := store.Save("x", st, mem); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := store.get(key("x", "state"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw[0] ^= 0xFF
	if err := store.db.Set(key("x", "state"), raw, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.Load("x"); !stderrors.Is(err, ErrCorrupt) {
		t.Errorf("Load = %v, want ErrCorrupt", err)
	}
}

func TestInvalidSlot(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	for _, slot := range []string{"", "a/b"} {
		if _, err := store.Save(slot, st, mem); err == nil {
			t.Errorf("Save(%q) succeeded", slot)
		}
	}
}

func TestRestoreSizeMismatch(t *testing.T) {
	store := newTestStore(t)
	st, mem := newTestGuest(t)
	if _, err := store.Save("x", st, mem); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, err := store.Load("x")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	small, err := memory.New(4096)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer small.Close()
	loader := &countingLoader{}
	if err := snap.Restore(st, small, loader); err == nil || loader.loads != 0 {
		t.Errorf("Restore into a smaller RAM = %v, loads %d", err, loader.loads)
	}
}

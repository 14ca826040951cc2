package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"gekkojit/pkg/config"
	"gekkojit/pkg/guest"
	"gekkojit/pkg/ppc"
)

func newTestEmulator(t *testing.T, mode config.Mode) *emulator {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = mode
	cfg.RAMSize = 1 << 20
	cfg.CodeCacheSize = 64 << 10
	cfg.SliceCycles = 100
	cfg.StatePath = t.TempDir()
	e, err := newEmulator(cfg)
	if err != nil {
		t.Fatalf("newEmulator: %v", err)
	}
	t.Cleanup(e.close)
	return e
}

func writeImage(t *testing.T, program ...ppc.Inst) string {
	t.Helper()
	data := make([]byte, 4*len(program))
	for i, inst := range program {
		binary.BigEndian.PutUint32(data[4*i:], uint32(inst))
	}
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestImageRunsInBothModes(t *testing.T) {
	entry := config.Default().Entry
	image := []ppc.Inst{
		ppc.ADDI(3, 0, 0),
		ppc.ADDI(4, 0, 100),
		ppc.MTCTR(4),
		ppc.ADDI(3, 3, 2),
		ppc.BC(ppc.BODecNZ, 0, entry+16, entry+12),
		ppc.B(entry+20, entry+20, false),
	}
	for _, mode := range []config.Mode{config.ModeJIT, config.ModeInterpreter} {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEmulator(t, mode)
			if err := e.loadImage(writeImage(t, image...)); err != nil {
				t.Fatalf("loadImage: %v", err)
			}
			if reason := e.runSlices(10); reason != guest.StopDowncount {
				t.Fatalf("runSlices = %s", reason)
			}
			if e.state.GPR[3] != 200 || e.state.PC != entry+20 {
				t.Errorf("r3 = %d pc = %08x, want 200 at %08x", e.state.GPR[3], e.state.PC, entry+20)
			}
			if got := e.jit.Stats().Cache.Blocks > 0; got != (mode == config.ModeJIT) {
				t.Errorf("blocks compiled = %v in %s mode", got, mode)
			}
		})
	}
}

func TestBreakpointStopsSlices(t *testing.T) {
	entry := config.Default().Entry
	e := newTestEmulator(t, config.ModeJIT)
	if err := e.loadImage(writeImage(t, ppc.ADDI(3, 0, 1), ppc.ADDI(3, 3, 1), ppc.B(entry+8, entry+8, false))); err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	e.jit.AddBreakpoint(entry + 4)
	if reason := e.runSlices(0); reason != guest.StopBreakpoint || e.state.PC != entry+4 {
		t.Errorf("runSlices = %s at %08x", reason, e.state.PC)
	}
}

func TestSaveAndLoadCommands(t *testing.T) {
	e := newTestEmulator(t, config.ModeJIT)
	e.state.GPR[5] = 42
	if err := cmdSave(e, []string{"one"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	e.state.GPR[5] = 0
	if err := cmdLoad(e, []string{"one"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.state.GPR[5] != 42 {
		t.Errorf("r5 = %d after load, want 42", e.state.GPR[5])
	}
	if err := cmdLoad(e, []string{"missing"}); err == nil {
		t.Error("loading an empty slot succeeded")
	}
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]uint32{"0x80003100": 0x80003100, "2147496192": 0x80003100} {
		got, err := parseAddress(in)
		if err != nil || got != want {
			t.Errorf("parseAddress(%q) = %08x, %v", in, got, err)
		}
	}
	if _, err := parseAddress("0x100000000"); err == nil {
		t.Error("parseAddress accepted a 33-bit value")
	}
}

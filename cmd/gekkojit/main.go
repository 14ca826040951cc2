package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/dc0d/onexit"

	"gekkojit/pkg/config"
	"gekkojit/pkg/guest"
	"gekkojit/pkg/interpreter"
	"gekkojit/pkg/jit"
	"gekkojit/pkg/memory"
	"gekkojit/pkg/savestate"
)

// emulator ties the guest, the translator and the snapshot store together.
type emulator struct {
	cfg   config.Config
	state *guest.State
	mem   *memory.Memory
	jit   *jit.JIT
	store *savestate.Store
}

func newEmulator(cfg config.Config) (*emulator, error) {
	mem, err := memory.New(uint32(cfg.RAMSize))
	if err != nil {
		return nil, err
	}
	state := &guest.State{}
	state.Reset(cfg.Entry)
	j, err := jit.New(state, mem, cfg.JITOptions())
	if err != nil {
		mem.Close()
		return nil, err
	}
	j.SetEnabled(cfg.Mode == config.ModeJIT)
	for _, addr := range cfg.Breakpoints {
		j.AddBreakpoint(addr)
	}
	return &emulator{cfg: cfg, state: state, mem: mem, jit: j}, nil
}

func (e *emulator) openStore() (*savestate.Store, error) {
	if e.store == nil {
		store, err := savestate.Open(e.cfg.StatePath)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	return e.store, nil
}

func (e *emulator) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Printf("Failed to close state store: %v", err)
		}
	}
	if err := e.jit.Free(); err != nil {
		log.Printf("Failed to release code arena: %v", err)
	}
	e.mem.Close()
}

// loadImage copies a raw big-endian program image into RAM.
func (e *emulator) loadImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := e.mem.Fill(e.cfg.LoadAddress, data); err != nil {
		return err
	}
	log.Printf("Loaded %d bytes at 0x%08x, entry 0x%08x", len(data), e.cfg.LoadAddress, e.state.PC)
	return nil
}

// runSlices hands the translator one slice of cycles at a time until it
// stops for a reason other than an exhausted slice. slices <= 0 runs
// until such a stop.
func (e *emulator) runSlices(slices int) guest.StopReason {
	for i := 0; slices <= 0 || i < slices; i++ {
		e.state.Downcount = e.cfg.SliceCycles
		if reason := e.jit.Run(); reason != guest.StopDowncount {
			return reason
		}
	}
	return guest.StopDowncount
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return uint32(v), nil
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	imagePath := flag.String("image", "", "Raw big-endian program image to load")
	entry := flag.String("entry", "", "Override the entry address")
	slices := flag.Int("slices", 0, "Run this many slices and exit instead of starting the console")
	traceFile := flag.String("trace", "", "Write translator events to this file")
	interpTrace := flag.String("interp-trace", "", "Write every interpreted instruction to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *entry != "" {
		if cfg.Entry, err = parseAddress(*entry); err != nil {
			log.Fatal(err)
		}
	}
	if *traceFile != "" {
		cfg.TraceFile = *traceFile
	}
	if cfg.TraceFile != "" {
		if err := jit.InitTraceLogger(cfg.TraceFile); err != nil {
			log.Fatalf("Failed to open trace file: %v", err)
		}
	}
	if *interpTrace != "" {
		if err := interpreter.InitFileLogger(*interpTrace); err != nil {
			log.Fatalf("Failed to open interpreter trace: %v", err)
		}
	}

	emu, err := newEmulator(cfg)
	if err != nil {
		log.Fatalf("Failed to set up guest: %v", err)
	}
	cleanup := sync.OnceFunc(emu.close)
	onexit.Register(cleanup)
	defer cleanup()

	if *imagePath != "" {
		if err := emu.loadImage(*imagePath); err != nil {
			log.Fatalf("Failed to load image: %v", err)
		}
	}

	if *slices > 0 {
		// Ctrl-C ends the current slice early
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		go func() {
			for range interrupts {
				emu.jit.RequestStop()
			}
		}()
		reason := emu.runSlices(*slices)
		log.Printf("Stopped (%s) at 0x%08x", reason, emu.state.PC)
		fmt.Println(emu.state)
		return
	}
	repl(emu)
}

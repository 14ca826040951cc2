// Package savestate keeps named snapshots of the guest register file and
// RAM in a pebble database. Translated code is never persisted; loading a
// snapshot tells the translator to drop everything it built.
package savestate

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/blake2b"

	"gekkojit/pkg/guest"
	"gekkojit/pkg/memory"
)

var (
	ErrNoSnapshot = stderrors.New("no snapshot in slot")
	ErrCorrupt    = stderrors.New("snapshot digest mismatch")
)

// Loader is told when the guest state was replaced behind its back.
type Loader interface {
	OnStateLoaded()
}

// Info describes a stored snapshot without its payload.
type Info struct {
	Slot    string
	ID      uuid.UUID
	Created time.Time
	RAMSize uint32
}

type Snapshot struct {
	Info
	State guest.State
	RAM   []byte
}

// header is stored under the meta key and must stay fixed-size.
type header struct {
	ID      [16]byte
	Created int64
	RAMSize uint32
	Digest  [blake2b.Size256]byte
}

const slotPrefix = "slot/"

func key(slot, part string) []byte { return []byte(slotPrefix + slot + "/" + part) }

// Store is a pebble-backed snapshot repository.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory returns a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodeState(st *guest.State) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, st); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

func digest(state, ram []byte) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	h.Write(state)
	h.Write(ram)
	var d [blake2b.Size256]byte
	copy(d[:], h.Sum(nil))
	return d
}

// Save writes the current guest state and RAM to slot, replacing any
// snapshot already there.
func (s *Store) Save(slot string, st *guest.State, mem *memory.Memory) (Info, error) {
	if slot == "" || strings.Contains(slot, "/") {
		return Info{}, fmt.Errorf("invalid slot name %q", slot)
	}
	state, err := encodeState(st)
	if err != nil {
		return Info{}, err
	}
	ram := mem.Bytes()

	var packed bytes.Buffer
	zw := lz4.NewWriter(&packed)
	if _, err := zw.Write(ram); err != nil {
		return Info{}, fmt.Errorf("compress ram: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Info{}, fmt.Errorf("compress ram: %w", err)
	}

	info := Info{Slot: slot, ID: uuid.New(), Created: time.Now(), RAMSize: uint32(len(ram))}
	h := header{ID: info.ID, Created: info.Created.UnixNano(), RAMSize: info.RAMSize, Digest: digest(state, ram)}
	var meta bytes.Buffer
	if err := binary.Write(&meta, binary.BigEndian, &h); err != nil {
		return Info{}, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key(slot, "meta"), meta.Bytes(), nil); err != nil {
		return Info{}, err
	}
	if err := batch.Set(key(slot, "state"), state, nil); err != nil {
		return Info{}, err
	}
	if err := batch.Set(key(slot, "ram"), packed.Bytes(), nil); err != nil {
		return Info{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return Info{}, fmt.Errorf("commit snapshot %s: %w", slot, err)
	}
	return info, nil
}

// get copies the value out of pebble's buffer.
func (s *Store) get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) header(slot string) (header, error) {
	var h header
	raw, err := s.get(key(slot, "meta"))
	if stderrors.Is(err, pebble.ErrNotFound) {
		return h, fmt.Errorf("%w %q", ErrNoSnapshot, slot)
	}
	if err != nil {
		return h, err
	}
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &h); err != nil {
		return h, fmt.Errorf("decode snapshot header %s: %w", slot, err)
	}
	return h, nil
}

func infoOf(slot string, h header) Info {
	return Info{Slot: slot, ID: uuid.UUID(h.ID), Created: time.Unix(0, h.Created), RAMSize: h.RAMSize}
}

// Load reads and verifies the snapshot in slot.
func (s *Store) Load(slot string) (*Snapshot, error) {
	h, err := s.header(slot)
	if err != nil {
		return nil, err
	}
	state, err := s.get(key(slot, "state"))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s state: %w", slot, err)
	}
	packed, err := s.get(key(slot, "ram"))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s ram: %w", slot, err)
	}
	ram := make([]byte, h.RAMSize)
	if _, err := io.ReadFull(lz4.NewReader(bytes.NewReader(packed)), ram); err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", slot, err)
	}
	if digest(state, ram) != h.Digest {
		return nil, fmt.Errorf("%s: %w", slot, ErrCorrupt)
	}

	snap := &Snapshot{Info: infoOf(slot, h), RAM: ram}
	if err := binary.Read(bytes.NewReader(state), binary.BigEndian, &snap.State); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", slot, err)
	}
	return snap, nil
}

// Restore installs snap into the running guest and notifies loader.
func (snap *Snapshot) Restore(st *guest.State, mem *memory.Memory, loader Loader) error {
	if err := mem.Restore(snap.RAM); err != nil {
		return fmt.Errorf("restore %s: %w", snap.Slot, err)
	}
	*st = snap.State
	if loader != nil {
		loader.OnStateLoaded()
	}
	return nil
}

// List returns every stored snapshot ordered by slot name.
func (s *Store) List() ([]Info, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(slotPrefix),
		UpperBound: []byte("slot0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Info
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasSuffix(k, "/meta") {
			continue
		}
		slot := strings.TrimSuffix(strings.TrimPrefix(k, slotPrefix), "/meta")
		var h header
		if err := binary.Read(bytes.NewReader(iter.Value()), binary.BigEndian, &h); err != nil {
			return nil, fmt.Errorf("decode snapshot header %s: %w", slot, err)
		}
		out = append(out, infoOf(slot, h))
	}
	return out, iter.Error()
}

func (s *Store) Delete(slot string) error {
	if _, err := s.header(slot); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, part := range []string{"meta", "state", "ram"} {
		if err := batch.Delete(key(slot, part), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

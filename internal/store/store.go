// Package store persists partial analysis results written by worker
// processes so the parent can merge them after every worker has exited.
//
// Layout of one run:
//
//	<root>/<run-id>/manifest.json
//	<root>/<run-id>/<variant>/<worker>.json
//	<root>/<run-id>/invalid/<worker>
package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

var (
	// ErrSlotExists is returned when a worker writes the same variant twice.
	ErrSlotExists = errors.New("slot already written")
	// ErrChecksum is returned when a slot's data does not match its checksum.
	ErrChecksum = errors.New("slot checksum mismatch")
)

const (
	manifestFile = "manifest.json"
	invalidDir   = "invalid"
	slotExt      = ".json"
)

// Store is one run directory.
type Store struct {
	fs    afero.Fs
	dir   string
	runID string
}

// Envelope wraps one worker's records for one variant.
type Envelope struct {
	Worker   int             `json:"worker"`
	Variant  string          `json:"variant"`
	Count    int             `json:"count"`
	Checksum string          `json:"checksum"`
	Data     json.RawMessage `json:"data"`
}

// NewRunID returns a run identifier unique to this process and instant.
func NewRunID() string {
	return fmt.Sprintf("%s-%d", time.Now().UTC().Format("20060102T150405.000000000"), os.Getpid())
}

// Create makes a new run directory under root.
func Create(fs afero.Fs, root, runID string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if runID == "" {
		runID = NewRunID()
	}
	dir := filepath.Join(root, runID)
	if exists, err := afero.DirExists(fs, dir); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("run directory %s already exists", dir)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Store{fs: fs, dir: dir, runID: runID}, nil
}

// Open attaches to an existing run directory.
func Open(fs afero.Fs, dir string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("run directory %s does not exist", dir)
	}
	return &Store{fs: fs, dir: filepath.Clean(dir), runID: filepath.Base(dir)}, nil
}

func (s *Store) Dir() string   { return s.dir }
func (s *Store) RunID() string { return s.runID }

// Remove deletes the run directory.
func (s *Store) Remove() error {
	return s.fs.RemoveAll(s.dir)
}

// HashBytes computes a BLAKE3 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Slot is the write side for one worker.
type Slot struct {
	store  *Store
	worker int
}

// Slot returns the write handle for worker.
func (s *Store) Slot(worker int) *Slot {
	return &Slot{store: s, worker: worker}
}

func (sl *Slot) Worker() int { return sl.worker }

func (s *Store) slotPath(variant string, worker int) string {
	return filepath.Join(s.dir, variant, strconv.Itoa(worker)+slotExt)
}

// Write encodes v as the worker's records for variant. count is recorded in
// the envelope for diagnostics. A slot can be written once.
func (sl *Slot) Write(variant string, count int, v any) error {
	if variant == "" || strings.ContainsAny(variant, `/\`) || variant == invalidDir {
		return fmt.Errorf("invalid variant name %q", variant)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s records: %w", variant, err)
	}
	env := Envelope{
		Worker:   sl.worker,
		Variant:  variant,
		Count:    count,
		Checksum: HashBytes(data),
		Data:     data,
	}
	return sl.store.writeAtomic(sl.store.slotPath(variant, sl.worker), env, true)
}

func (s *Store) writeAtomic(path string, v any, once bool) error {
	if once {
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", path, ErrSlotExists)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

// Invalidate marks worker as failed. Its slots are skipped by ReadAll.
func (s *Store) Invalidate(worker int, reason string) error {
	dir := filepath.Join(s.dir, invalidDir)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(dir, strconv.Itoa(worker)), []byte(reason), 0o644)
}

// Invalidated returns the failed workers and their reasons.
func (s *Store) Invalidated() (map[int]string, error) {
	out := make(map[int]string)
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.dir, invalidDir))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		w, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		reason, err := afero.ReadFile(s.fs, filepath.Join(s.dir, invalidDir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[w] = string(reason)
	}
	return out, nil
}

// ReadAll passes every valid worker's data for variant to fn in worker
// order. Checksum mismatches are fatal.
func (s *Store) ReadAll(variant string, fn func(worker int, data json.RawMessage) error) error {
	invalid, err := s.Invalidated()
	if err != nil {
		return fmt.Errorf("failed to read invalid markers: %w", err)
	}
	workers, err := s.workers(variant)
	if err != nil {
		return err
	}
	for _, w := range workers {
		if _, bad := invalid[w]; bad {
			continue
		}
		env, err := s.readSlot(variant, w)
		if err != nil {
			return err
		}
		if err := fn(w, env.Data); err != nil {
			return fmt.Errorf("worker %d %s: %w", w, variant, err)
		}
	}
	return nil
}

func (s *Store) workers(variant string) ([]int, error) {
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.dir, variant))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s slots: %w", variant, err)
	}
	var workers []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, slotExt) {
			continue
		}
		w, err := strconv.Atoi(strings.TrimSuffix(name, slotExt))
		if err != nil {
			continue
		}
		workers = append(workers, w)
	}
	sort.Ints(workers)
	return workers, nil
}

func (s *Store) readSlot(variant string, worker int) (*Envelope, error) {
	path := s.slotPath(variant, worker)
	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if env.Worker != worker || env.Variant != variant {
		return nil, fmt.Errorf("%s: envelope is for worker %d variant %q", path, env.Worker, env.Variant)
	}
	if HashBytes(env.Data) != env.Checksum {
		return nil, fmt.Errorf("%s: %w", path, ErrChecksum)
	}
	return &env, nil
}

// Save writes records as the slot's data for variant.
func Save[T any](sl *Slot, variant string, records []T) error {
	if records == nil {
		records = []T{}
	}
	return sl.Write(variant, len(records), records)
}

// Load decodes every valid worker's records for variant, concatenated in
// worker order.
func Load[T any](s *Store, variant string) ([]T, error) {
	var out []T
	err := s.ReadAll(variant, func(_ int, data json.RawMessage) error {
		var part []T
		if err := json.Unmarshal(data, &part); err != nil {
			return err
		}
		out = append(out, part...)
		return nil
	})
	return out, err
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/panbanda/ccdead/pkg/compdb"
)

// ErrFingerprint is returned when a manifest's task list does not match its
// recorded fingerprint.
var ErrFingerprint = errors.New("manifest fingerprint mismatch")

// Manifest describes a run to its workers.
type Manifest struct {
	RunID       string          `json:"run_id"`
	Created     time.Time       `json:"created"`
	Workers     int             `json:"workers"`
	Analyses    []string        `json:"analyses"`
	Fingerprint string          `json:"fingerprint"`
	Tasks       []compdb.Task   `json:"tasks"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Fingerprint hashes the ordered task list. Partition boundaries depend on
// order, so reordering changes the fingerprint.
func Fingerprint(tasks []compdb.Task) string {
	d := xxhash.New()
	for _, t := range tasks {
		for _, a := range t.Args {
			d.WriteString(a)
			d.Write([]byte{0})
		}
		d.WriteString(t.Directory)
		d.Write([]byte{1})
	}
	d.WriteString(strconv.Itoa(len(tasks)))
	return fmt.Sprintf("%016x", d.Sum64())
}

// WriteManifest stores m, filling in the run id and fingerprint.
func (s *Store) WriteManifest(m *Manifest) error {
	m.RunID = s.runID
	m.Fingerprint = Fingerprint(m.Tasks)
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	return s.writeAtomic(filepath.Join(s.dir, manifestFile), m, true)
}

// ReadManifest loads the manifest and verifies its fingerprint.
func (s *Store) ReadManifest() (*Manifest, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if got := Fingerprint(m.Tasks); got != m.Fingerprint {
		return nil, fmt.Errorf("%w: recorded %s, tasks hash to %s", ErrFingerprint, m.Fingerprint, got)
	}
	return &m, nil
}

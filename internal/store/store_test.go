package store

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/ccdead/pkg/compdb"
)

type rec struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

func newStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := Create(fs, "/tmp/ccdead", "run1")
	require.NoError(t, err)
	return s, fs
}

func TestCreateAndOpen(t *testing.T) {
	s, fs := newStore(t)
	assert.Equal(t, "/tmp/ccdead/run1", s.Dir())
	assert.Equal(t, "run1", s.RunID())

	_, err := Create(fs, "/tmp/ccdead", "run1")
	assert.Error(t, err)

	opened, err := Open(fs, "/tmp/ccdead/run1/")
	require.NoError(t, err)
	assert.Equal(t, "run1", opened.RunID())

	_, err = Open(fs, "/tmp/ccdead/missing")
	assert.Error(t, err)
}

func TestNewRunIDIsGenerated(t *testing.T) {
	s, err := Create(afero.NewMemMapFs(), "/root", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.RunID())
	assert.True(t, strings.HasPrefix(s.Dir(), "/root/"))
}

func TestSaveLoadWorkerOrder(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, Save(s.Slot(2), "decls", []rec{{"c", 3}}))
	require.NoError(t, Save(s.Slot(0), "decls", []rec{{"a", 1}}))
	require.NoError(t, Save(s.Slot(10), "decls", []rec{{"d", 4}}))
	require.NoError(t, Save(s.Slot(1), "decls", []rec{{"b", 2}, {"a", 1}}))

	got, err := Load[rec](s, "decls")
	require.NoError(t, err)
	assert.Equal(t, []rec{{"a", 1}, {"b", 2}, {"a", 1}, {"c", 3}, {"d", 4}}, got)
}

func TestLoadMissingVariant(t *testing.T) {
	s, _ := newStore(t)
	got, err := Load[rec](s, "refs")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSlotWriteOnce(t *testing.T) {
	s, _ := newStore(t)
	slot := s.Slot(0)
	require.NoError(t, Save(slot, "decls", []rec{{"a", 1}}))

	err := Save(slot, "decls", []rec{{"b", 2}})
	assert.ErrorIs(t, err, ErrSlotExists)

	require.NoError(t, Save(slot, "refs", []rec(nil)))
	got, err := Load[rec](s, "refs")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInvalidVariantNames(t *testing.T) {
	s, _ := newStore(t)
	for _, v := range []string{"", "a/b", "invalid"} {
		assert.Error(t, s.Slot(0).Write(v, 0, nil), v)
	}
}

func TestEnvelope(t *testing.T) {
	s, fs := newStore(t)
	require.NoError(t, Save(s.Slot(3), "decls", []rec{{"a", 1}, {"b", 2}}))

	raw, err := afero.ReadFile(fs, "/tmp/ccdead/run1/decls/3.json")
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, 3, env.Worker)
	assert.Equal(t, "decls", env.Variant)
	assert.Equal(t, 2, env.Count)
	assert.Equal(t, HashBytes(env.Data), env.Checksum)

	// no temp files left behind
	entries, err := afero.ReadDir(fs, "/tmp/ccdead/run1/decls")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChecksumMismatch(t *testing.T) {
	s, fs := newStore(t)
	require.NoError(t, Save(s.Slot(0), "decls", []rec{{"a", 1}}))

	path := "/tmp/ccdead/run1/decls/0.json"
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"name":"a"`, `"name":"z"`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, afero.WriteFile(fs, path, []byte(tampered), 0o644))

	_, err = Load[rec](s, "decls")
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestMisplacedEnvelope(t *testing.T) {
	s, fs := newStore(t)
	require.NoError(t, Save(s.Slot(0), "decls", []rec{{"a", 1}}))
	raw, err := afero.ReadFile(fs, "/tmp/ccdead/run1/decls/0.json")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/tmp/ccdead/run1/decls/1.json", raw, 0o644))

	_, err = Load[rec](s, "decls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "envelope is for worker 0")
}

func TestInvalidatedWorkersAreSkipped(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, Save(s.Slot(0), "decls", []rec{{"a", 1}}))
	require.NoError(t, Save(s.Slot(1), "decls", []rec{{"b", 2}}))
	require.NoError(t, s.Invalidate(1, "exit status 3"))

	got, err := Load[rec](s, "decls")
	require.NoError(t, err)
	assert.Equal(t, []rec{{"a", 1}}, got)

	invalid, err := s.Invalidated()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "exit status 3"}, invalid)
}

func TestReadAllCallbackError(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, Save(s.Slot(4), "decls", []rec{{"a", 1}}))

	err := s.ReadAll("decls", func(int, json.RawMessage) error { return assert.AnError })
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "worker 4")
}

func TestManifest(t *testing.T) {
	s, fs := newStore(t)
	tasks := []compdb.Task{
		{Args: []string{"cc", "/src/a.c"}, Directory: "/src", File: "/src/a.c"},
		{Args: []string{"cc", "/src/b.c"}, Directory: "/src", File: "/src/b.c"},
	}
	m := &Manifest{Workers: 2, Analyses: []string{"macros"}, Tasks: tasks, Config: json.RawMessage(`{"a":1}`)}
	require.NoError(t, s.WriteManifest(m))
	assert.Equal(t, "run1", m.RunID)
	assert.Equal(t, Fingerprint(tasks), m.Fingerprint)

	got, err := s.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, tasks, got.Tasks)
	assert.Equal(t, 2, got.Workers)
	assert.JSONEq(t, `{"a":1}`, string(got.Config))

	assert.ErrorIs(t, s.WriteManifest(m), ErrSlotExists)

	// tamper with the task list
	path := filepath.Join(s.Dir(), "manifest.json")
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, []byte(strings.Replace(string(raw), "b.c", "c.c", -1)), 0o644))
	_, err = s.ReadManifest()
	assert.ErrorIs(t, err, ErrFingerprint)
}

func TestFingerprintOrderSensitive(t *testing.T) {
	a := compdb.Task{Args: []string{"cc", "/a.c"}}
	b := compdb.Task{Args: []string{"cc", "/b.c"}}
	assert.NotEqual(t, Fingerprint([]compdb.Task{a, b}), Fingerprint([]compdb.Task{b, a}))
	assert.Equal(t, Fingerprint([]compdb.Task{a, b}), Fingerprint([]compdb.Task{a, b}))
	assert.NotEqual(t, Fingerprint(nil), Fingerprint([]compdb.Task{{}}))
}

func TestRemove(t *testing.T) {
	s, fs := newStore(t)
	require.NoError(t, Save(s.Slot(0), "decls", []rec{{"a", 1}}))
	require.NoError(t, s.Remove())
	exists, err := afero.DirExists(fs, s.Dir())
	require.NoError(t, err)
	assert.False(t, exists)
}

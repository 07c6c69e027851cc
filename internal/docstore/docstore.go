// Package docstore provides persistent JSON documents keyed by scope and name.
//
// Each document is one file at <root>/<scope>/<name> with a backup copy at
// <root>/<scope>/backup/<name>. Every write first copies the current file to
// the backup (if it is valid JSON) and then atomically replaces it, so a crash
// mid-write leaves at least one readable version behind. Loading falls back
// to the backup and finally to an empty document; read failures are logged,
// never returned.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotJSON is returned when a value cannot be represented as JSON.
var ErrNotJSON = errors.New("value is not JSON encodable")

// Store caches documents under a root directory.
type Store struct {
	root string
	log  *zap.SugaredLogger

	mu   sync.Mutex
	docs map[string]*Document
}

// Open creates the root directory if needed and returns a Store over it.
func Open(root string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		root: root,
		log:  log,
		docs: make(map[string]*Document),
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// Document returns the document for (scope, name), loading it on first use.
// The same handle is returned for the same pair.
func (s *Store) Document(scope, name string) (*Document, error) {
	if err := validName(scope); err != nil {
		return nil, fmt.Errorf("scope: %w", err)
	}
	if err := validName(name); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}

	key := scope + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.docs[key]; ok {
		return d, nil
	}

	dir := filepath.Join(s.root, scope)
	if err := os.MkdirAll(filepath.Join(dir, "backup"), 0o755); err != nil {
		return nil, fmt.Errorf("create scope dir: %w", err)
	}

	d := &Document{
		scope:  scope,
		name:   name,
		path:   filepath.Join(dir, name),
		backup: filepath.Join(dir, "backup", name),
		log:    s.log.With("document", key),
	}
	d.load()
	s.docs[key] = d
	return d, nil
}

// Scopes lists scope directories present under the root.
func (s *Store) Scopes() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Names lists the documents stored in scope, sorted. Hidden files are
// skipped.
func (s *Store) Names(scope string) ([]string, error) {
	if err := validName(scope); err != nil {
		return nil, fmt.Errorf("scope: %w", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, scope))
	if err != nil {
		return nil, fmt.Errorf("read scope %s: %w", scope, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func validName(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == ".." || s == "backup":
		return fmt.Errorf("reserved name %q", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("path separator in %q", s)
	}
	return nil
}

// Document is a JSON object persisted to a single file.
type Document struct {
	scope  string
	name   string
	path   string
	backup string
	log    *zap.SugaredLogger

	mu   sync.RWMutex
	data map[string]any
}

func (d *Document) load() {
	data, err := readJSON(d.path)
	if err == nil {
		d.data = data
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		d.log.Errorw("could not load document", "path", d.path, "error", err)
	}

	data, berr := readJSON(d.backup)
	if berr == nil {
		d.log.Errorw("loaded backup", "path", d.backup)
		d.data = data
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		d.log.Errorw("starting with empty document", "backup_error", berr)
	}
	d.data = make(map[string]any)
}

func readJSON(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

// Path returns the primary file path.
func (d *Document) Path() string {
	return d.path
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Decode unmarshals the value under key into v. It reports false when the
// key is absent.
func (d *Document) Decode(key string, v any) (bool, error) {
	raw, ok := d.Get(key)
	if !ok {
		return false, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Keys returns the document keys in sorted order.
func (d *Document) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.data)
}

// Set stores value under key and syncs the document to disk. Values are
// normalized through JSON so Get returns the same shape before and after a
// reload.
func (d *Document) Set(key string, value any) error {
	norm, err := normalize(value)
	if err != nil {
		return err
	}
	return d.Update(func(data map[string]any) error {
		data[key] = norm
		return nil
	})
}

// Delete removes key and syncs the document.
func (d *Document) Delete(key string) error {
	return d.Update(func(data map[string]any) error {
		delete(data, key)
		return nil
	})
}

// Update runs fn over the whole document under the document lock and syncs
// the result. If fn returns an error nothing is written, but in-place
// mutations made by fn are kept in memory.
func (d *Document) Update(fn func(data map[string]any) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := fn(d.data); err != nil {
		return err
	}
	return d.syncLocked()
}

// Sync writes the current content to disk.
func (d *Document) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncLocked()
}

// Snapshot returns a deep copy of the document content.
func (d *Document) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, err := normalize(d.data)
	if err != nil {
		return map[string]any{}
	}
	m, _ := out.(map[string]any)
	return m
}

func (d *Document) syncLocked() error {
	buf, err := json.MarshalIndent(d.data, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	unlock := fileLocks.Lock(d.path)
	defer unlock()

	// Only a readable primary may replace the backup.
	if current, err := os.ReadFile(d.path); err == nil && json.Valid(current) {
		if err := writeAtomic(d.backup, current); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}
	if err := writeAtomic(d.path, buf); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

func normalize(v any) (any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return out, nil
}

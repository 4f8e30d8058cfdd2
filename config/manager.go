// Package config owns the user configuration file. The document is kept as a
// generic JSON tree so keys this build does not know survive a save; writes go
// through setters narrowed to the recognised paths.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/habedi/fcrollback/pkg/validation"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Manager is the single owner of the config file.
type Manager struct {
	fs   afero.Fs
	path string
	bus  *events.Bus

	mu         sync.Mutex
	doc        map[string]any
	lastDigest uint64
}

// Open loads the config file at path, creating it with defaults when missing
// and filling in any sub-tree an older file lacks.
func Open(fs afero.Fs, path string, bus *events.Bus) (*Manager, error) {
	m := &Manager{fs: fs, path: path, bus: bus}

	doc, existed, err := m.read()
	if err != nil {
		return nil, err
	}
	changed := migrate(doc, defaults())
	m.doc = doc
	if !existed || changed {
		if err := m.save(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) read() (map[string]any, bool, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if os.IsNotExist(err) {
		return map[string]any{}, false, nil
	}
	if err != nil {
		return nil, false, clierr.FromFS("failed to read config", err)
	}
	m.lastDigest = xxhash.Sum64(data)

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		backup := m.path + ".bak"
		log.Warn().Err(err).Str("backup", backup).Msg("Config file is corrupt, starting from defaults")
		_ = afero.WriteFile(m.fs, backup, data, 0o644)
		return map[string]any{}, false, nil
	}
	return doc, true, nil
}

// encode renders the document with 4-space indentation and a trailing newline.
func encode(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// save writes the whole document. Callers hold mu or own m exclusively.
func (m *Manager) save() error {
	data, err := encode(m.doc)
	if err != nil {
		return eris.Wrap(err, "failed to encode config")
	}
	if err := fsutil.WriteFileAtomic(m.fs, m.path, data, 0o644); err != nil {
		return clierr.FromFS("failed to write config", err)
	}
	m.lastDigest = xxhash.Sum64(data)
	return nil
}

// Save rewrites the file from the in-memory document.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// Snapshot returns a typed copy of the current document.
func (m *Manager) Snapshot() Config {
	m.mu.Lock()
	data, err := json.Marshal(m.doc)
	m.mu.Unlock()

	var cfg Config
	if err == nil {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Config has values of unexpected types, using defaults for them")
		data, _ = json.Marshal(defaults())
		_ = json.Unmarshal(data, &cfg)
	}
	return cfg
}

// Get returns the raw value at a dotted path.
func (m *Manager) Get(path string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.doc, strings.Split(path, "."))
}

// Set writes one recognised path. Unrecognised paths and invalid values are
// rejected with a Validation error and leave the file untouched.
func (m *Manager) Set(path string, value any) error {
	f, parts, ok := lookupField(path)
	if !ok {
		return clierr.New(clierr.Validation, "unrecognised config path "+path, nil)
	}
	v, err := coerce(f.kind, value)
	if err != nil {
		return clierr.New(clierr.Validation, "invalid value for "+path, err)
	}
	if f.check != nil {
		if err := f.check(v); err != nil {
			return clierr.New(clierr.Validation, "invalid value for "+path, err)
		}
	}

	m.mu.Lock()
	prev, had := lookup(m.doc, parts)
	assign(m.doc, parts, toJSONValue(v))
	if err := m.save(); err != nil {
		if had {
			assign(m.doc, parts, prev)
		} else {
			remove(m.doc, parts)
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	log.Debug().Str("path", path).Interface("value", v).Msg("Config updated")
	m.notify(parts, v)
	return nil
}

func (m *Manager) notify(parts []string, v any) {
	if m.bus == nil {
		return
	}
	path := strings.Join(parts, ".")
	if len(parts) == 4 && parts[0] == "Settings" && parts[1] == "Visual" {
		switch parts[2] {
		case "TableColumns":
			m.bus.ColumnsChanged.Publish(events.ColumnsChange{TabKey: parts[3], Columns: v.([]string)})
		case "ContentVersionDisplay":
			m.bus.VersionDisplayChanged.Publish(events.VersionDisplayChange{TabKey: parts[3], Mode: v.(string)})
		}
	}
	m.bus.ConfigChanged.Publish(events.ConfigChange{Path: path})
}

// SetSelectedGame records the game directory all probes run against.
func (m *Manager) SetSelectedGame(dir string) error {
	return m.Set("GameConfig.SelectedGame", dir)
}

// SetFingerprint records the last known executable fingerprint. An empty
// value clears it.
func (m *Manager) SetFingerprint(sum string) error {
	return m.Set("GameConfig.SHA1", strings.ToLower(sum))
}

// StoredFingerprint is the last recorded executable fingerprint.
func (m *Manager) StoredFingerprint() string {
	v, _ := m.Get("GameConfig.SHA1")
	s, _ := v.(string)
	return s
}

// AddManualGame appends dir to the manually added games unless an entry
// with the same path (ignoring case) is already there.
func (m *Manager) AddManualGame(dir string) error {
	if err := validation.ValidateAbsolutePath("game directory", dir); err != nil {
		return clierr.New(clierr.Validation, "invalid game directory", err)
	}
	games := m.Snapshot().GameConfig.ManuallyAddedGames
	for _, g := range games {
		if strings.EqualFold(filepath.Clean(g), filepath.Clean(dir)) {
			return nil
		}
	}
	return m.Set("GameConfig.ManuallyAddedGames", append(games, dir))
}

// Reload re-reads the file, for instance after an external edit.
func (m *Manager) Reload() error {
	m.mu.Lock()
	doc, _, err := m.read()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	migrate(doc, defaults())
	m.doc = doc
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.ConfigChanged.Publish(events.ConfigChange{})
	}
	return nil
}

// Watch reloads the document whenever the file is changed by another
// process. It needs the host filesystem and blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create config watcher")
	}
	defer watcher.Close()

	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return eris.Wrapf(err, "failed to watch %s", filepath.Dir(m.path))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !m.externallyChanged() {
				continue
			}
			log.Info().Str("path", m.path).Msg("Config file changed on disk, reloading")
			if err := m.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload config")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// externallyChanged compares the file digest with the last one this manager
// read or wrote, so our own saves do not trigger a reload.
func (m *Manager) externallyChanged() bool {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return xxhash.Sum64(data) != m.lastDigest
}

func lookup(doc map[string]any, parts []string) (any, bool) {
	var cur any = doc
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(doc map[string]any, parts []string, v any) {
	node := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[p] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = v
}

func remove(doc map[string]any, parts []string) {
	parent, ok := lookup(doc, parts[:len(parts)-1])
	if !ok {
		return
	}
	if node, ok := parent.(map[string]any); ok {
		delete(node, parts[len(parts)-1])
	}
}

// migrate fills keys missing from doc with their defaults and replaces
// values whose JSON type no longer matches. Unknown keys are kept.
func migrate(doc, defs map[string]any) bool {
	changed := false
	for k, def := range defs {
		cur, ok := doc[k]
		if !ok {
			doc[k] = def
			changed = true
			continue
		}
		if defMap, isMap := def.(map[string]any); isMap {
			curMap, ok := cur.(map[string]any)
			if !ok {
				log.Warn().Str("key", k).Msg("Config section has the wrong type, resetting it")
				doc[k] = defMap
				changed = true
				continue
			}
			if migrate(curMap, defMap) {
				changed = true
			}
			continue
		}
		if jsonKind(cur) != jsonKind(def) {
			log.Warn().Str("key", k).Msg("Config value has the wrong type, resetting it")
			doc[k] = def
			changed = true
		}
	}
	return changed
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	return "other"
}

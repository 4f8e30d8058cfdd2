// Package events is the process-wide notification registry. Each concern has
// its own typed topic; delivery is synchronous on the publisher's goroutine.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Handle is returned by Subscribe; closing it removes the listener. The zero
// Handle closes nothing.
type Handle struct {
	id    uint64
	unsub func(uint64)
}

// Close unregisters the listener. Closing twice is harmless.
func (h Handle) Close() {
	if h.unsub != nil {
		h.unsub(h.id)
	}
}

type listener[T any] struct {
	id  uint64
	key string
	fn  func(T)
}

// Topic delivers values of type T to its listeners in registration order.
type Topic[T any] struct {
	name      string
	mu        sync.RWMutex
	nextID    uint64
	listeners []listener[T]
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn under key. Registering the same key again keeps the
// first registration, so repeated wiring counts once; the handle returned for
// the duplicate closes nothing.
func (t *Topic[T]) Subscribe(key string, fn func(T)) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.listeners {
		if l.key == key {
			return Handle{}
		}
	}
	t.nextID++
	t.listeners = append(t.listeners, listener[T]{id: t.nextID, key: key, fn: fn})
	return Handle{id: t.nextID, unsub: t.unsubscribe}
}

func (t *Topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Len is the number of registered listeners.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}

// Publish calls every listener with v. A panicking listener is logged and
// skipped; the rest still run.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	snapshot := make([]listener[T], len(t.listeners))
	copy(snapshot, t.listeners)
	t.mu.RUnlock()

	for _, l := range snapshot {
		t.deliver(l, v)
	}
}

func (t *Topic[T]) deliver(l listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", t.name).
				Str("listener", l.key).
				Interface("panic", r).
				Msg("Event listener panicked")
		}
	}()
	l.fn(v)
}

// ColumnsChange reports a new column set for a table tab.
type ColumnsChange struct {
	TabKey  string
	Columns []string
}

// VersionDisplayChange reports a new title-bar version mode for a tab.
type VersionDisplayChange struct {
	TabKey string
	Mode   string
}

// ConfigChange reports a config mutation. An empty Path means the whole file
// was reloaded.
type ConfigChange struct {
	Path string
}

// CatalogRefresh asks consumers to reload the catalog and recompute statuses.
type CatalogRefresh struct {
	TitleID string
	Reason  string
}

// Bus groups the topics shared by the engine and its front-ends.
type Bus struct {
	ColumnsChanged          *Topic[ColumnsChange]
	VersionDisplayChanged   *Topic[VersionDisplayChange]
	ConfigChanged           *Topic[ConfigChange]
	CatalogRefreshRequested *Topic[CatalogRefresh]
}

func NewBus() *Bus {
	return &Bus{
		ColumnsChanged:          NewTopic[ColumnsChange]("columns-changed"),
		VersionDisplayChanged:   NewTopic[VersionDisplayChange]("version-display-changed"),
		ConfigChanged:           NewTopic[ConfigChange]("config-changed"),
		CatalogRefreshRequested: NewTopic[CatalogRefresh]("catalog-refresh-requested"),
	}
}

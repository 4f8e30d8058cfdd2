// Package status decides what the user can do with each catalog entry.
package status

import (
	"path/filepath"
	"strings"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/pkg/hasher"
	"github.com/habedi/fcrollback/profile"
	"github.com/shaj13/libcache"
	_ "github.com/shaj13/libcache/lru"
	"github.com/spf13/afero"
)

type Status string

const (
	ComingInConfirmed    Status = "Coming in (confirmed)"
	NotAddedToList       Status = "Not added to list yet"
	Installed            Status = "Installed"
	ReadyToInstall       Status = "Ready to install"
	AvailableForDownload Status = "Available for download"
)

// Inputs is everything besides the entry that the decision depends on.
type Inputs struct {
	TitleID     string
	Fingerprint string       // current executable fingerprint, may be empty
	SettingsDir string       // per-user settings directory of the title
	Today       catalog.Date // entries released after Today are upcoming
}

// ArtifactResolver finds stored artifacts; *profile.Store implements it.
type ArtifactResolver interface {
	ResolveArtifact(titleID string, kind catalog.Kind, name string) (profile.Artifact, error)
}

// Resolver applies the status decision table. It only reads.
type Resolver struct {
	fs       afero.Fs
	profiles ArtifactResolver
}

func NewResolver(fs afero.Fs, profiles ArtifactResolver) *Resolver {
	return &Resolver{fs: fs, profiles: profiles}
}

// Resolve evaluates the rules top-down; the first matching rule wins.
func (r *Resolver) Resolve(e catalog.Entry, in Inputs) Status {
	if !e.HasDownload() {
		if !e.Released.IsZero() && e.Released.After(in.Today.Time) {
			return ComingInConfirmed
		}
		return NotAddedToList
	}
	switch {
	case e.Kind == catalog.TitleUpdate:
		if fp := e.Fingerprint(); fp != "" && fp == hasher.Normalize(in.Fingerprint) {
			return Installed
		}
	case e.Kind.IsSquads():
		if in.SettingsDir != "" && strings.TrimSpace(e.Name) != "" {
			if info, err := r.fs.Stat(filepath.Join(in.SettingsDir, e.Name)); err == nil && !info.IsDir() {
				return Installed
			}
		}
	}
	if _, err := r.profiles.ResolveArtifact(in.TitleID, e.Kind, e.Name); err == nil {
		return ReadyToInstall
	}
	return AvailableForDownload
}

// Cache memoizes Resolve per (title, kind, name, fingerprint, settings dir, day).
type Cache struct {
	resolver *Resolver
	entries  libcache.Cache
}

// NewCache keeps up to capacity results; zero means unbounded.
func NewCache(r *Resolver, capacity int) *Cache {
	return &Cache{resolver: r, entries: libcache.LRU.New(capacity)}
}

func cacheKey(e catalog.Entry, in Inputs) string {
	return strings.Join([]string{
		in.TitleID, string(e.Kind), e.Name,
		hasher.Normalize(in.Fingerprint), in.SettingsDir, in.Today.String(),
	}, "|")
}

func (c *Cache) Resolve(e catalog.Entry, in Inputs) Status {
	key := cacheKey(e, in)
	if v, ok := c.entries.Load(key); ok {
		return v.(Status)
	}
	s := c.resolver.Resolve(e, in)
	c.entries.Store(key, s)
	return s
}

// ResolveAll returns one status per entry, in order.
func (c *Cache) ResolveAll(entries []catalog.Entry, in Inputs) []Status {
	out := make([]Status, len(entries))
	for i, e := range entries {
		out[i] = c.Resolve(e, in)
	}
	return out
}

// Purge drops every cached result.
func (c *Cache) Purge() { c.entries.Purge() }

func (c *Cache) Len() int { return c.entries.Len() }

// Bind purges the cache whenever a catalog refresh is requested.
func (c *Cache) Bind(bus *events.Bus) events.Handle {
	return bus.CatalogRefreshRequested.Subscribe("status-cache", func(events.CatalogRefresh) {
		c.Purge()
	})
}

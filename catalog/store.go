package catalog

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/shaj13/libcache"
	_ "github.com/shaj13/libcache/lru"
	"github.com/spf13/afero"
)

// Status texts emitted while loading.
const (
	StatusCached   = "cached"
	StatusRebuilt  = "new update detected / rebuilt"
	StatusUpToDate = "up to date"
	StatusOffline  = "offline mode"
	StatusBaseline = "out-of-date baseline"
)

// Source names the tier a catalog came from.
type Source string

const (
	SourceMemory   Source = "memory"
	SourceRemote   Source = "remote"
	SourceLocal    Source = "local"
	SourceOffline  Source = "offline"
	SourceBaseline Source = "baseline"
)

// StatusSink receives human-readable progress text.
type StatusSink func(status string)

// Notifier surfaces warnings to the user.
type Notifier interface {
	Warn(title, message string)
}

// Result is a loaded catalog plus where it came from.
type Result struct {
	Snapshot
	Source  Source
	Status  string
	Warning string
}

// ContentVersion returns the title-bar text of a kind for the given display
// mode ("VersionByNumber" or "VersionByDate").
func (r Result) ContentVersion(kind Kind, display string) string {
	m, ok := r.Markers[kind]
	if !ok {
		return ""
	}
	if display == "VersionByDate" {
		return m.ContentVersionDate.String()
	}
	if m.ContentVersion == 0 {
		return ""
	}
	return strconv.Itoa(m.ContentVersion)
}

// Store loads catalogs through the memory, remote, local and baseline tiers.
type Store struct {
	fs       afero.Fs
	layout   *paths.Layout
	fetcher  Fetcher
	notifier Notifier

	mem   libcache.Cache
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(layout *paths.Layout, fetcher Fetcher, notifier Notifier) *Store {
	return &Store{
		fs:       layout.Fs(),
		layout:   layout,
		fetcher:  fetcher,
		notifier: notifier,
		mem:      libcache.LRU.New(0),
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Store) titleLock(titleID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[titleID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[titleID] = l
	}
	return l
}

// Invalidate drops the in-memory catalog of a title.
func (s *Store) Invalidate(titleID string) {
	s.mem.Delete(titleID)
}

// Load returns the freshest catalog available for titleID. Loads of the same
// title are serialized; after the first success the in-memory copy is
// reused until Invalidate.
func (s *Store) Load(ctx context.Context, titleID string, sink StatusSink) (Result, error) {
	emit := func(status string) {
		log.Info().Str("title", titleID).Msg("Catalog: " + status)
		if sink != nil {
			sink(status)
		}
	}
	if _, err := s.layout.Root(); err != nil {
		return Result{}, clierr.FromFS("failed to prepare app-data directory", err)
	}

	lock := s.titleLock(titleID)
	lock.Lock()
	defer lock.Unlock()

	if v, ok := s.mem.Load(titleID); ok {
		res := v.(Result)
		res.Snapshot = res.Snapshot.Clone()
		res.Source = SourceMemory
		res.Status = StatusCached
		res.Warning = ""
		emit(StatusCached)
		return res, nil
	}

	cachePath, err := s.layout.CacheFile(titleID)
	if err != nil {
		return Result{}, clierr.FromFS("failed to prepare data directory", err)
	}
	localBytes, local, haveLocal := s.readSnapshot(cachePath)

	remote, remoteErr := s.fetcher.Fetch(ctx, titleID)
	var remoteBytes []byte
	if remoteErr == nil {
		remoteBytes, remoteErr = EncodeSnapshot(remote)
	}
	if remoteErr != nil {
		log.Warn().Err(remoteErr).Str("title", titleID).Msg("Remote catalog unavailable")
	}

	var res Result
	switch {
	case remoteErr == nil && (!haveLocal || Digest(remoteBytes) != Digest(localBytes)):
		if err := fsutil.WriteFileAtomic(s.fs, cachePath, remoteBytes, 0o644); err != nil {
			log.Error().Err(err).Str("path", cachePath).Msg("Failed to persist catalog snapshot")
		}
		res = Result{Snapshot: remote, Source: SourceRemote, Status: StatusRebuilt}
	case remoteErr == nil:
		res = Result{Snapshot: local, Source: SourceLocal, Status: StatusUpToDate}
	case haveLocal:
		res = Result{
			Snapshot: local,
			Source:   SourceOffline,
			Status:   StatusOffline,
			Warning:  "The update list could not be refreshed. Showing the last saved list (offline mode).",
		}
	default:
		baselinePath := s.layout.BaselineCache(titleID)
		_, baseline, ok := s.readSnapshot(baselinePath)
		if !ok {
			return Result{}, clierr.New(clierr.CatalogUnavailable,
				"no update list is available for "+titleID+": remote, local cache and bundled baseline all failed",
				eris.Wrap(remoteErr, "remote fetch failed"))
		}
		res = Result{
			Snapshot: baseline,
			Source:   SourceBaseline,
			Status:   StatusBaseline,
			Warning:  "Showing the bundled update list, which is out of date. Connect to the internet and refresh.",
		}
	}

	emit(res.Status)
	if res.Warning != "" && s.notifier != nil {
		s.notifier.Warn("Update list", res.Warning)
	}
	// fallbacks are not remembered so the next load tries the remote again
	if res.Source == SourceRemote || res.Source == SourceLocal {
		s.mem.Store(titleID, res)
	}
	res.Snapshot = res.Snapshot.Clone()
	return res, nil
}

func (s *Store) readSnapshot(path string) ([]byte, Snapshot, bool) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read catalog snapshot")
		}
		return nil, Snapshot{}, false
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable catalog snapshot")
		return nil, Snapshot{}, false
	}
	return data, snap, true
}

package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/habedi/fcrollback/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Fetcher produces a fresh snapshot of a title from its remote manifests.
type Fetcher interface {
	Fetch(ctx context.Context, titleID string) (Snapshot, error)
}

// RemoteFetcher reads <base>/<title-id>/<Kind>.json for every kind.
type RemoteFetcher struct {
	client  *client.Client
	baseURL string
	policy  client.RetryPolicy
}

func NewRemoteFetcher(c *client.Client, baseURL string) *RemoteFetcher {
	return &RemoteFetcher{client: c, baseURL: strings.TrimRight(baseURL, "/"), policy: client.CatalogRetry}
}

// ManifestURL is the remote location of one kind's manifest.
func (f *RemoteFetcher) ManifestURL(titleID string, kind Kind) string {
	return f.baseURL + "/" + titleID + "/" + kind.ManifestFile()
}

// Fetch downloads every kind in parallel. Any failing kind fails the fetch,
// since a partial remote catalog must not replace the local one.
func (f *RemoteFetcher) Fetch(ctx context.Context, titleID string) (Snapshot, error) {
	snap := Snapshot{
		FormatVersion: SnapshotFormat,
		TitleID:       titleID,
		Markers:       map[Kind]Marker{},
		Catalog:       Catalog{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range Kinds() {
		g.Go(func() error {
			url := f.ManifestURL(titleID, kind)
			body, err := f.client.GetWithRetry(gctx, url, f.policy)
			if err != nil {
				return err
			}
			marker, entries, err := ParseManifest(kind, body)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Markers[kind] = marker
			snap.Catalog[kind] = entries
			mu.Unlock()
			log.Debug().Str("title", titleID).Str("kind", string(kind)).Int("entries", len(entries)).Msg("Fetched manifest")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if err := snap.Catalog.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

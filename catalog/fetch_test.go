package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestServer(t *testing.T, failKind string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failKind != "" && strings.HasSuffix(r.URL.Path, failKind+".json") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/FCX/TitleUpdates.json":
			_, _ = w.Write([]byte(`{"contentVersion": 7, "contentVersionDate": "2024-06-03", "entries": [{"name": "TU7", "releasedDate": "2024-06-03", "downloadUrl": "https://x/TU7.zip", "sha1": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}]}`))
		case "/FCX/Squads.json":
			_, _ = w.Write([]byte(`{"contentVersion": 2, "entries": [{"name": "Squads1", "releasedDate": "2024-06-01"}]}`))
		case "/FCX/FutSquads.json":
			_, _ = w.Write([]byte(`{"contentVersion": 1, "entries": []}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRemoteFetcher_Fetch(t *testing.T) {
	server := manifestServer(t, "")
	defer server.Close()

	f := catalog.NewRemoteFetcher(client.New(client.Options{}), server.URL+"/")
	assert.Equal(t, server.URL+"/FCX/Squads.json", f.ManifestURL("FCX", catalog.Squads))

	snap, err := f.Fetch(context.Background(), "FCX")
	require.NoError(t, err)
	assert.Equal(t, "FCX", snap.TitleID)
	assert.Equal(t, 7, snap.Markers[catalog.TitleUpdate].ContentVersion)
	require.Len(t, snap.Catalog[catalog.TitleUpdate], 1)
	assert.Equal(t, "TU7", snap.Catalog[catalog.TitleUpdate][0].Name)
	assert.Len(t, snap.Catalog[catalog.Squads], 1)
	assert.Empty(t, snap.Catalog[catalog.FutSquads])
}

func TestRemoteFetcher_OneKindFailing(t *testing.T) {
	server := manifestServer(t, "FutSquads")
	defer server.Close()

	_, err := catalog.NewRemoteFetcher(client.New(client.Options{}), server.URL).Fetch(context.Background(), "FCX")
	assert.Error(t, err)
}

func TestRemoteFetcher_MissingTitle(t *testing.T) {
	server := manifestServer(t, "")
	defer server.Close()

	_, err := catalog.NewRemoteFetcher(client.New(client.Options{}), server.URL).Fetch(context.Background(), "NOPE")
	assert.Error(t, err)
}

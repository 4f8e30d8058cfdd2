package catalog_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/habedi/fcrollback/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(titleID string) catalog.Snapshot {
	return catalog.Snapshot{
		FormatVersion: catalog.SnapshotFormat,
		TitleID:       titleID,
		Markers: map[catalog.Kind]catalog.Marker{
			catalog.TitleUpdate: {ContentVersion: 14, ContentVersionDate: catalog.NewDate(2024, time.June, 3)},
			catalog.Squads:      {ContentVersion: 3, ContentVersionDate: catalog.NewDate(2024, time.May, 30)},
		},
		Catalog: catalog.Catalog{
			catalog.TitleUpdate: {
				{Kind: catalog.TitleUpdate, Name: "TU1", Released: catalog.NewDate(2023, time.September, 22), Size: 1 << 30,
					DownloadURL: "https://cdn.example.org/TU1.zip", SHA1: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", SemVer: "1.0.84.47716"},
				{Kind: catalog.TitleUpdate, Name: "TU2", Released: catalog.NewDate(2023, time.October, 10), Size: 2 << 30,
					DownloadURL: "https://cdn.example.org/TU2.zip", SHA1: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
			},
			catalog.Squads: {
				{Kind: catalog.Squads, Name: "Squads20240530101010", Released: catalog.NewDate(2024, time.May, 30), Size: 4096, TUVersion: "TU14"},
			},
		},
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]catalog.Kind{
		"TitleUpdates": catalog.TitleUpdate,
		"titleupdate":  catalog.TitleUpdate,
		"Squads":       catalog.Squads,
		"futsquads":    catalog.FutSquads,
	} {
		got, err := catalog.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := catalog.ParseKind("Changelog")
	assert.Error(t, err)

	assert.Equal(t, "TitleUpdates.json", catalog.TitleUpdate.ManifestFile())
	assert.True(t, catalog.FutSquads.IsSquads())
	assert.False(t, catalog.TitleUpdate.IsSquads())
}

func TestDate_JSON(t *testing.T) {
	var v struct {
		D catalog.Date `json:"d"`
		E catalog.Date `json:"e"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d": "2024/05/30", "e": ""}`), &v))
	assert.Equal(t, "2024-05-30", v.D.String())
	assert.True(t, v.E.IsZero())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d": "2024-05-30", "e": ""}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"d": "yesterday"}`), &v))
}

func TestCatalog_SortedNewestFirst(t *testing.T) {
	cat := sampleSnapshot("FCX").Catalog
	sorted := cat.Sorted(catalog.TitleUpdate)
	require.Len(t, sorted, 2)
	assert.Equal(t, "TU2", sorted[0].Name)
	assert.Equal(t, "TU1", sorted[1].Name)
	// the source slice is untouched
	assert.Equal(t, "TU1", cat[catalog.TitleUpdate][0].Name)
}

func TestCatalog_Validate(t *testing.T) {
	cat := sampleSnapshot("FCX").Catalog
	require.NoError(t, cat.Validate())

	cat[catalog.Squads] = append(cat[catalog.Squads], cat[catalog.Squads][0])
	assert.Error(t, cat.Validate())
}

func TestCatalog_FindAndClone(t *testing.T) {
	cat := sampleSnapshot("FCX").Catalog
	e, ok := cat.Find(catalog.TitleUpdate, "TU1")
	require.True(t, ok)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", e.Fingerprint())

	clone := cat.Clone()
	clone[catalog.TitleUpdate][0].Name = "changed"
	assert.Equal(t, "TU1", cat[catalog.TitleUpdate][0].Name)

	_, ok = cat.Find(catalog.TitleUpdate, "TU9")
	assert.False(t, ok)
}

func TestEntry_Version(t *testing.T) {
	e := catalog.Entry{SemVer: "1.0.84.47716"}
	v, err := e.Version()
	require.NoError(t, err)
	assert.Equal(t, "1.0.84", v.String())

	_, err = catalog.Entry{SemVer: "n/a"}.Version()
	assert.Error(t, err)
}

func TestSnapshotCodec_RoundTripAndDeterminism(t *testing.T) {
	snap := sampleSnapshot("FCX")

	first, err := catalog.EncodeSnapshot(snap)
	require.NoError(t, err)
	second, err := catalog.EncodeSnapshot(snap.Clone())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, catalog.Digest(first), catalog.Digest(second))

	decoded, err := catalog.DecodeSnapshot(first)
	require.NoError(t, err)
	assert.Equal(t, snap.TitleID, decoded.TitleID)
	assert.Equal(t, snap.Markers, decoded.Markers)
	assert.Equal(t, snap.Catalog, decoded.Catalog)

	changed := snap.Clone()
	changed.Markers[catalog.TitleUpdate] = catalog.Marker{ContentVersion: 15}
	third, err := catalog.EncodeSnapshot(changed)
	require.NoError(t, err)
	assert.NotEqual(t, catalog.Digest(first), catalog.Digest(third))
}

func TestDecodeSnapshot_Rejects(t *testing.T) {
	_, err := catalog.DecodeSnapshot([]byte("not zlib"))
	assert.Error(t, err)
}

func TestParseManifest(t *testing.T) {
	body := `{
	  "contentVersion": 14,
	  "contentVersionDate": "2024-06-03",
	  "entries": [
	    {"name": "TU14", "releasedDate": "2024-06-03", "size": 123, "downloadUrl": "https://x/TU14.zip",
	     "sha1": "abc", "semVer": "1.0.90", "depotId": "2195251", "manifestId": "777", "patchNotesUrl": "https://x/notes.md",
	     "buildDate": "2024-06-01", "tuVersion": "ignored"}
	  ]
	}`
	marker, entries, err := catalog.ParseManifest(catalog.TitleUpdate, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 14, marker.ContentVersion)
	assert.Equal(t, "2024-06-03", marker.ContentVersionDate.String())
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, catalog.TitleUpdate, e.Kind)
	assert.Equal(t, "2195251", e.DepotID)
	assert.Equal(t, "777", e.ManifestID)
	assert.Empty(t, e.TUVersion)
	assert.True(t, e.BuildDate.IsZero())

	_, squads, err := catalog.ParseManifest(catalog.Squads, []byte(`{"entries":[{"name":"S1","buildDate":"2024-06-01","tuVersion":"TU14","sha1":"x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "TU14", squads[0].TUVersion)
	assert.Empty(t, squads[0].SHA1)
	assert.False(t, squads[0].HasDownload())

	_, _, err = catalog.ParseManifest(catalog.Squads, []byte(`[]`))
	assert.Error(t, err)
}

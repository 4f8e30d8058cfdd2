package catalog

import (
	"encoding/json"
	"fmt"
)

// manifest is the remote JSON document of one kind.
type manifest struct {
	ContentVersion     int             `json:"contentVersion"`
	ContentVersionDate Date            `json:"contentVersionDate"`
	Entries            []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	Name               string `json:"name"`
	ReleasedDate       Date   `json:"releasedDate"`
	Size               int64  `json:"size"`
	DownloadURL        string `json:"downloadUrl"`
	ContentVersion     int    `json:"contentVersion"`
	ContentVersionDate Date   `json:"contentVersionDate"`
	SemVer             string `json:"semVer"`
	SHA1               string `json:"sha1"`
	DepotID            string `json:"depotId"`
	ManifestID         string `json:"manifestId"`
	PatchNotesURL      string `json:"patchNotesUrl"`
	BuildDate          Date   `json:"buildDate"`
	TUVersion          string `json:"tuVersion"`
}

// ParseManifest decodes one kind's manifest into its marker and entries.
func ParseManifest(kind Kind, data []byte) (Marker, []Entry, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, nil, fmt.Errorf("failed to parse %s manifest: %w", kind, err)
	}
	entries := make([]Entry, 0, len(m.Entries))
	for _, me := range m.Entries {
		e := Entry{
			Kind:        kind,
			Name:        me.Name,
			Released:    me.ReleasedDate,
			Size:        me.Size,
			DownloadURL: me.DownloadURL,
		}
		if kind == TitleUpdate {
			e.ContentVersion = me.ContentVersion
			e.ContentVersionDate = me.ContentVersionDate
			e.SemVer = me.SemVer
			e.SHA1 = me.SHA1
			e.DepotID = me.DepotID
			e.ManifestID = me.ManifestID
			e.PatchNotesURL = me.PatchNotesURL
		} else {
			e.BuildDate = me.BuildDate
			e.TUVersion = me.TUVersion
		}
		entries = append(entries, e)
	}
	return Marker{ContentVersion: m.ContentVersion, ContentVersionDate: m.ContentVersionDate}, entries, nil
}

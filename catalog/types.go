// Package catalog produces the update catalog of a title from the remote
// manifests, the compressed local snapshot or the bundled baseline.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/habedi/fcrollback/pkg/hasher"
)

// Kind is the update kind an entry belongs to.
type Kind string

const (
	TitleUpdate Kind = "TitleUpdate"
	Squads      Kind = "Squads"
	FutSquads   Kind = "FutSquads"
)

// Kinds lists every kind in display order.
func Kinds() []Kind { return []Kind{TitleUpdate, Squads, FutSquads} }

// TabKey is the config key of the kind's table tab.
func (k Kind) TabKey() string {
	if k == TitleUpdate {
		return "TitleUpdates"
	}
	return string(k)
}

// ManifestFile is the remote manifest filename of the kind.
func (k Kind) ManifestFile() string { return k.TabKey() + ".json" }

// IsSquads reports whether the kind is one of the roster kinds.
func (k Kind) IsSquads() bool { return k == Squads || k == FutSquads }

// ParseKind accepts a kind or tab key, ignoring case.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(s, string(k)) || strings.EqualFold(s, k.TabKey()) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown update kind %q (must be one of: TitleUpdates, Squads, FutSquads)", s)
}

const dateLayout = "2006-01-02"

var dateLayouts = []string{dateLayout, "2006/01/02", "02/01/2006", time.RFC3339}

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today is the current calendar date.
func Today(now time.Time) Date {
	y, m, d := now.Date()
	return NewDate(y, m, d)
}

// ParseDate reads a date in one of the layouts the manifests use. An empty
// string is the zero date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Today(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalCBOR() ([]byte, error) { return cbor.Marshal(d.String()) }

func (d *Date) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Entry is one row of the catalog. The TitleUpdate and squad fields are
// only set for their kind.
type Entry struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Released    Date   `json:"releasedDate"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`

	ContentVersion     int    `json:"contentVersion,omitempty"`
	ContentVersionDate Date   `json:"contentVersionDate"`
	SemVer             string `json:"semVer,omitempty"`
	SHA1               string `json:"sha1,omitempty"`
	DepotID            string `json:"depotId,omitempty"`
	ManifestID         string `json:"manifestId,omitempty"`
	PatchNotesURL      string `json:"patchNotesUrl,omitempty"`

	BuildDate Date   `json:"buildDate"`
	TUVersion string `json:"tuVersion,omitempty"`
}

// HasDownload reports whether the entry has a download URL yet.
func (e Entry) HasDownload() bool {
	return strings.TrimSpace(e.DownloadURL) != ""
}

// Fingerprint is the normalised expected executable digest.
func (e Entry) Fingerprint() string {
	return hasher.Normalize(e.SHA1)
}

// Version parses SemVer; manifests sometimes carry a fourth build component,
// which is dropped.
func (e Entry) Version() (*semver.Version, error) {
	return ParseVersion(e.SemVer)
}

// ParseVersion parses a version string, keeping at most three components.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		s = strings.Join(parts[:3], ".")
	}
	return semver.NewVersion(s)
}

// Marker is the top-level version marker of one kind's manifest.
type Marker struct {
	ContentVersion     int  `json:"contentVersion"`
	ContentVersionDate Date `json:"contentVersionDate"`
}

// Catalog maps each kind to its entries.
type Catalog map[Kind][]Entry

// Clone returns a deep copy.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for k, entries := range c {
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		out[k] = cp
	}
	return out
}

// Sorted returns the entries of kind newest first. Entries released the
// same day keep their manifest order.
func (c Catalog) Sorted(kind Kind) []Entry {
	entries := make([]Entry, len(c[kind]))
	copy(entries, c[kind])
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Released.After(entries[j].Released.Time)
	})
	return entries
}

// Find looks up an entry by exact name.
func (c Catalog) Find(kind Kind, name string) (Entry, bool) {
	for _, e := range c[kind] {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Validate checks that names are unique within each kind.
func (c Catalog) Validate() error {
	for kind, entries := range c {
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			if strings.TrimSpace(e.Name) == "" {
				return fmt.Errorf("%s entry without a name", kind)
			}
			if seen[e.Name] {
				return fmt.Errorf("duplicate %s entry %q", kind, e.Name)
			}
			seen[e.Name] = true
		}
	}
	return nil
}

// Snapshot is what is persisted to disk for one title.
type Snapshot struct {
	FormatVersion int             `json:"formatVersion"`
	TitleID       string          `json:"titleId"`
	Markers       map[Kind]Marker `json:"markers"`
	Catalog       Catalog         `json:"catalog"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Markers = make(map[Kind]Marker, len(s.Markers))
	for k, m := range s.Markers {
		out.Markers[k] = m
	}
	out.Catalog = s.Catalog.Clone()
	return out
}

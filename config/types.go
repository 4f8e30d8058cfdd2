package config

import (
	"strconv"
	"strings"
)

// Tab keys of the per-tab visual settings.
const (
	TabTitleUpdates = "TitleUpdates"
	TabSquads       = "Squads"
	TabFutSquads    = "FutSquads"
)

// Version display modes.
const (
	VersionByNumber = "VersionByNumber"
	VersionByDate   = "VersionByDate"
)

const DefaultSegments = 8

// Columns a table tab may show.
var KnownColumns = []string{"Name", "Released", "Size", "Version", "SemVer", "TU", "BuildDate", "Status"}

// Config is a typed copy of the recognised part of the config document.
type Config struct {
	GameConfig GameConfig `json:"GameConfig"`
	Settings   Settings   `json:"Settings"`
}

type GameConfig struct {
	SelectedGame       string   `json:"SelectedGame"`
	SHA1               string   `json:"SHA1"`
	ManuallyAddedGames []string `json:"ManuallyAddedGames"`
}

type Settings struct {
	InstallationOptions InstallationOptions `json:"InstallationOptions"`
	DownloadOptions     DownloadOptions     `json:"DownloadOptions"`
	Visual              Visual              `json:"Visual"`
}

type InstallationOptions struct {
	BackupGameSettingsFolder bool `json:"BackupGameSettingsFolder"`
	BackupTitleUpdate        bool `json:"BackupTitleUpdate"`
	DeleteStoredTitleUpdate  bool `json:"DeleteStoredTitleUpdate"`
	DeleteSquadsAfterInstall bool `json:"DeleteSquadsAfterInstall"`
	DeleteLiveTuningUpdate   bool `json:"DeleteLiveTuningUpdate"`
}

type DownloadOptions struct {
	Segments          string `json:"Segments"`
	SpeedLimitEnabled bool   `json:"SpeedLimitEnabled"`
	SpeedLimit        int    `json:"SpeedLimit"`
	AutoUseIDM        bool   `json:"AutoUseIDM"`
	IDMPath           string `json:"IDMPath"`
}

// SegmentCount parses Segments, falling back to the default for junk values.
func (d DownloadOptions) SegmentCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(d.Segments))
	if err != nil || n < 1 {
		return DefaultSegments
	}
	return n
}

// RateLimitKB is the global cap in KB/s, or 0 when disabled.
func (d DownloadOptions) RateLimitKB() int {
	if !d.SpeedLimitEnabled || d.SpeedLimit < 1 {
		return 0
	}
	return d.SpeedLimit
}

type Visual struct {
	TableColumns          map[string][]string `json:"TableColumns"`
	ContentVersionDisplay map[string]string   `json:"ContentVersionDisplay"`
	LastUsedTab           string              `json:"LastUsedTab"`
}

// Columns returns the configured columns of a tab.
func (v Visual) Columns(tab string) []string {
	return v.TableColumns[tab]
}

// VersionDisplay returns the version mode of a tab, defaulting to numbers.
func (v Visual) VersionDisplay(tab string) string {
	if m := v.ContentVersionDisplay[tab]; m != "" {
		return m
	}
	return VersionByNumber
}

func defaultColumns(tab string) []any {
	if tab == TabTitleUpdates {
		return []any{"Name", "Released", "Size", "Version", "Status"}
	}
	return []any{"Name", "Released", "Size", "TU", "Status"}
}

// defaults builds a fresh default document using JSON value types.
func defaults() map[string]any {
	columns := map[string]any{}
	display := map[string]any{}
	for _, tab := range []string{TabTitleUpdates, TabSquads, TabFutSquads} {
		columns[tab] = defaultColumns(tab)
		display[tab] = VersionByNumber
	}
	return map[string]any{
		"GameConfig": map[string]any{
			"SelectedGame":       "",
			"SHA1":               "",
			"ManuallyAddedGames": []any{},
		},
		"Settings": map[string]any{
			"InstallationOptions": map[string]any{
				"BackupGameSettingsFolder": true,
				"BackupTitleUpdate":        false,
				"DeleteStoredTitleUpdate":  false,
				"DeleteSquadsAfterInstall": false,
				"DeleteLiveTuningUpdate":   true,
			},
			"DownloadOptions": map[string]any{
				"Segments":          strconv.Itoa(DefaultSegments),
				"SpeedLimitEnabled": false,
				"SpeedLimit":        float64(1024),
				"AutoUseIDM":        false,
				"IDMPath":           "",
			},
			"Visual": map[string]any{
				"TableColumns":          columns,
				"ContentVersionDisplay": display,
				"LastUsedTab":           TabTitleUpdates,
			},
		},
	}
}

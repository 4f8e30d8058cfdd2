package validation

import (
	"fmt"
	"path/filepath"
	"regexp"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	MinSegments = 1
	MaxSegments = 16
)

// Tab keys used by the per-tab visual settings.
var TabKeys = []string{"TitleUpdates", "Squads", "FutSquads"}

// Version display modes accepted for a tab's title bar.
var VersionDisplays = []string{"VersionByNumber", "VersionByDate"}

var windowsAbs = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

func ValidateSegments(segments int) error {
	if err := ozzo.Validate(segments, ozzo.Min(MinSegments), ozzo.Max(MaxSegments)); err != nil {
		return fmt.Errorf("segment count must be between %d and %d, got %d", MinSegments, MaxSegments, segments)
	}
	return nil
}

func ValidateSpeedLimit(kb int) error {
	if err := ozzo.Validate(kb, ozzo.Min(1)); err != nil {
		return fmt.Errorf("speed limit must be a positive number of KB, got %d", kb)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if err := ozzo.Validate(value, ozzo.Required); err != nil {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

func ValidateFingerprint(sum string) error {
	if err := ozzo.Validate(sum, ozzo.Required, ozzo.Length(40, 40), is.Hexadecimal); err != nil {
		return fmt.Errorf("fingerprint must be 40 hex characters: %w", err)
	}
	return nil
}

func ValidateTabKey(key string) error {
	if err := ozzo.Validate(key, ozzo.Required, ozzo.In(toAny(TabKeys)...)); err != nil {
		return fmt.Errorf("invalid tab key: %q (must be one of: TitleUpdates, Squads, FutSquads)", key)
	}
	return nil
}

func ValidateVersionDisplay(mode string) error {
	if err := ozzo.Validate(mode, ozzo.Required, ozzo.In(toAny(VersionDisplays)...)); err != nil {
		return fmt.Errorf("invalid version display: %q (must be VersionByNumber or VersionByDate)", mode)
	}
	return nil
}

func ValidateURL(raw string) error {
	if err := ozzo.Validate(raw, ozzo.Required, is.URL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	return nil
}

// ValidateAbsolutePath accepts host-absolute paths as well as Windows drive paths.
func ValidateAbsolutePath(fieldName, path string) error {
	err := ozzo.Validate(path, ozzo.Required, ozzo.By(func(v interface{}) error {
		p, _ := v.(string)
		if filepath.IsAbs(p) || windowsAbs.MatchString(p) {
			return nil
		}
		return fmt.Errorf("not absolute")
	}))
	if err != nil {
		return fmt.Errorf("%s must be an absolute path, got %q", fieldName, path)
	}
	return nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

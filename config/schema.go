package config

import (
	"fmt"
	"strconv"
	"strings"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/habedi/fcrollback/pkg/validation"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindIntString
	kindList
)

const tabKeyWildcard = "<tabKey>"

type field struct {
	pattern string
	kind    valueKind
	check   func(any) error
}

// schema lists every path a setter may write.
var schema = []field{
	{"GameConfig.SelectedGame", kindString, optional(func(s string) error {
		return validation.ValidateAbsolutePath("SelectedGame", s)
	})},
	{"GameConfig.SHA1", kindString, optional(validation.ValidateFingerprint)},
	{"GameConfig.ManuallyAddedGames", kindList, eachString(func(s string) error {
		return validation.ValidateAbsolutePath("ManuallyAddedGames entry", s)
	})},
	{"Settings.InstallationOptions.BackupGameSettingsFolder", kindBool, nil},
	{"Settings.InstallationOptions.BackupTitleUpdate", kindBool, nil},
	{"Settings.InstallationOptions.DeleteStoredTitleUpdate", kindBool, nil},
	{"Settings.InstallationOptions.DeleteSquadsAfterInstall", kindBool, nil},
	{"Settings.InstallationOptions.DeleteLiveTuningUpdate", kindBool, nil},
	{"Settings.DownloadOptions.Segments", kindIntString, func(v any) error {
		s := v.(string)
		if err := ozzo.Validate(s, ozzo.Required, is.Int); err != nil {
			return fmt.Errorf("segments must be a whole number: %w", err)
		}
		n, _ := strconv.Atoi(s)
		return validation.ValidateSegments(n)
	}},
	{"Settings.DownloadOptions.SpeedLimitEnabled", kindBool, nil},
	{"Settings.DownloadOptions.SpeedLimit", kindInt, func(v any) error {
		return validation.ValidateSpeedLimit(v.(int))
	}},
	{"Settings.DownloadOptions.AutoUseIDM", kindBool, nil},
	{"Settings.DownloadOptions.IDMPath", kindString, optional(func(s string) error {
		return validation.ValidateAbsolutePath("IDMPath", s)
	})},
	{"Settings.Visual.TableColumns." + tabKeyWildcard, kindList, validColumns},
	{"Settings.Visual.ContentVersionDisplay." + tabKeyWildcard, kindString, func(v any) error {
		return validation.ValidateVersionDisplay(v.(string))
	}},
	{"Settings.Visual.LastUsedTab", kindString, func(v any) error {
		return validation.ValidateTabKey(v.(string))
	}},
}

// RecognisedPaths lists the setter paths, with <tabKey> left as a placeholder.
func RecognisedPaths() []string {
	out := make([]string, len(schema))
	for i, f := range schema {
		out[i] = f.pattern
	}
	return out
}

func lookupField(path string) (field, []string, bool) {
	parts := strings.Split(path, ".")
	for _, f := range schema {
		pattern := strings.Split(f.pattern, ".")
		if len(pattern) != len(parts) {
			continue
		}
		ok := true
		for i := range pattern {
			if pattern[i] == tabKeyWildcard {
				if validation.ValidateTabKey(parts[i]) != nil {
					ok = false
					break
				}
				continue
			}
			if pattern[i] != parts[i] {
				ok = false
				break
			}
		}
		if ok {
			return f, parts, true
		}
	}
	return field{}, nil, false
}

// coerce converts loosely-typed input (CLI strings, decoded JSON) into the
// field's JSON shape.
func coerce(kind valueKind, v any) (any, error) {
	switch kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", v)
		}
		return s, nil
	case kindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected true or false, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected a bool, got %T", v)
	case kindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != float64(int(n)) {
				return nil, fmt.Errorf("expected a whole number, got %v", n)
			}
			return int(n), nil
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return nil, fmt.Errorf("expected a whole number, got %q", n)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected a number, got %T", v)
	case kindIntString:
		switch n := v.(type) {
		case string:
			return strings.TrimSpace(n), nil
		case int:
			return strconv.Itoa(n), nil
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("expected a number as string, got %T", v)
	case kindList:
		switch l := v.(type) {
		case []string:
			return l, nil
		case []any:
			out := make([]string, 0, len(l))
			for _, item := range l {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected a list of strings, found %T", item)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			var out []string
			for _, part := range strings.Split(l, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	return nil, fmt.Errorf("unsupported value kind")
}

func optional(check func(string) error) func(any) error {
	return func(v any) error {
		s := v.(string)
		if s == "" {
			return nil
		}
		return check(s)
	}
}

func eachString(check func(string) error) func(any) error {
	return func(v any) error {
		for _, s := range v.([]string) {
			if err := check(s); err != nil {
				return err
			}
		}
		return nil
	}
}

func validColumns(v any) error {
	cols := v.([]string)
	if err := ozzo.Validate(cols, ozzo.Required); err != nil {
		return fmt.Errorf("at least one column is required")
	}
	known := map[string]bool{}
	for _, c := range KnownColumns {
		known[c] = true
	}
	for _, c := range cols {
		if !known[c] {
			return fmt.Errorf("unknown column %q (known: %s)", c, strings.Join(KnownColumns, ", "))
		}
	}
	return nil
}

// toJSONValue stores typed values in the shapes encoding/json decodes into,
// so in-memory and reloaded documents compare equal.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return v
}

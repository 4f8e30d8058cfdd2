package download

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sample is one progress reading.
type Sample struct {
	Done     int64 // bytes
	Total    int64 // bytes, 0 when unknown
	Rate     int64 // bytes per second
	ETA      time.Duration
	Segments int // active connections
	Splits   int
}

// Percent is Done over Total, or 0 when the total is unknown.
func (s Sample) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Done) * 100 / float64(s.Total)
}

// summaryLine matches the bracketed aria2 readout, e.g.
// [#2089b0 400.0MiB/33.2GiB(1%) CN:16 SD:5 DL:115.7MiB ETA:4m51s]
var summaryLine = regexp.MustCompile(`\[#[0-9a-fA-F]+\s+([^/\]]+?)\s*/\s*([^(\]]+?)\s*\(\s*\d+\s*%\s*\)([^\]]*)\]`)

// ParseLine turns one line of downloader output into a sample. Lines that
// are not progress readouts return false.
func ParseLine(line string) (Sample, bool) {
	m := summaryLine.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}
	done, err := ParseSize(m[1])
	if err != nil {
		return Sample{}, false
	}
	total, err := ParseSize(m[2])
	if err != nil {
		return Sample{}, false
	}
	s := Sample{Done: done, Total: total}
	for _, field := range strings.Fields(m[3]) {
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "CN":
			s.Segments, _ = strconv.Atoi(val)
		case "SD":
			s.Splits, _ = strconv.Atoi(val)
		case "DL":
			if rate, err := ParseSize(val); err == nil {
				s.Rate = rate
			}
		case "ETA":
			if eta, err := time.ParseDuration(strings.ToLower(val)); err == nil {
				s.ETA = eta
			}
		}
	}
	return s, true
}

var units = map[string]float64{
	"":    1,
	"B":   1,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
}

// ParseSize reads a human size such as "1,234.5MiB", "1.234,5 MiB" or
// "400 B". Thousand separators may be commas, dots, spaces or apostrophes.
func ParseSize(s string) (int64, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\u2019':
			return -1
		}
		return r
	}, s)
	i := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' && r != ',' })
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], s[i:]
	}
	mult, ok := units[strings.ToUpper(unit)]
	if !ok || num == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	v, err := strconv.ParseFloat(normalizeNumber(num), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(v * mult), nil
}

// normalizeNumber rewrites a localized number to Go syntax. When both
// separators appear the last one is the decimal mark; a lone separator
// followed by exactly three digits is a thousands mark.
func normalizeNumber(n string) string {
	lastDot, lastComma := strings.LastIndex(n, "."), strings.LastIndex(n, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			return strings.ReplaceAll(n, ",", "")
		}
		return strings.Replace(strings.ReplaceAll(n, ".", ""), ",", ".", 1)
	case lastComma >= 0:
		return lonelySeparator(n, ",")
	case lastDot >= 0:
		return lonelySeparator(n, ".")
	}
	return n
}

func lonelySeparator(n, sep string) string {
	if strings.Count(n, sep) > 1 || len(n)-strings.LastIndex(n, sep)-1 == 3 {
		return strings.ReplaceAll(n, sep, "")
	}
	return strings.Replace(n, sep, ".", 1)
}

// FormatETA renders d as "Xh Ym Zs", leaving out zero parts.
func FormatETA(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs <= 0 {
		return "0s"
	}
	h, m, s := secs/3600, secs%3600/60, secs%60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// estimate fills in the ETA of a sample from its rate.
func estimate(s Sample) Sample {
	if s.ETA == 0 && s.Rate > 0 && s.Total > s.Done {
		s.ETA = time.Duration(float64(s.Total-s.Done)/float64(s.Rate)) * time.Second
	}
	return s
}

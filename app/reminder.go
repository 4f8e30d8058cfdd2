package app

import (
	"bytes"
	"time"

	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

const (
	reminderSection = "Reminder"
	reminderKey     = "LastShown"
)

// DefaultReminderInterval is how long the self-update reminder stays quiet
// after it was shown.
const DefaultReminderInterval = 7 * 24 * time.Hour

// Reminder tracks when the self-update reminder was last shown.
type Reminder struct {
	fs       afero.Fs
	path     string
	Interval time.Duration
}

func NewReminder(fs afero.Fs, path string) *Reminder {
	return &Reminder{fs: fs, path: path, Interval: DefaultReminderInterval}
}

// LastShown returns the recorded time, or the zero time when the file is
// missing or unreadable.
func (r *Reminder) LastShown() time.Time {
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return time.Time{}
	}
	f, err := ini.Load(data)
	if err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("Ignoring corrupt reminder file")
		return time.Time{}
	}
	t, err := f.Section(reminderSection).Key(reminderKey).TimeFormat(time.RFC3339)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Due reports whether the reminder should be shown at now.
func (r *Reminder) Due(now time.Time) bool {
	last := r.LastShown()
	return last.IsZero() || !now.Before(last.Add(r.Interval))
}

// Mark records now as the last time the reminder was shown.
func (r *Reminder) Mark(now time.Time) error {
	f := ini.Empty()
	f.Section(reminderSection).Key(reminderKey).SetValue(now.UTC().Format(time.RFC3339))
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return eris.Wrap(err, "failed to encode reminder state")
	}
	if err := fsutil.WriteFileAtomic(r.fs, r.path, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "failed to write %s", r.path)
	}
	return nil
}

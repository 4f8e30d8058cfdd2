package app

import (
	"errors"
	"io/fs"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/habedi/fcrollback/paths"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// EnvPrefix prefixes every environment variable read into Options.
const EnvPrefix = "FCROLLBACK"

const DefaultManifestURL = "https://raw.githubusercontent.com/fcrollback/manifests/main"

// Options are the runtime settings that do not belong in the user's config
// file.
type Options struct {
	ManifestURL     string        `env:"MANIFEST_URL" default:"https://raw.githubusercontent.com/fcrollback/manifests/main" usage:"Base URL of the update manifests"`
	LocalAppData    string        `env:"LOCAL_APP_DATA" usage:"Overrides the local app-data directory"`
	WorkDir         string        `env:"WORK_DIR" usage:"Overrides the folder holding the profile store"`
	ChromePath      string        `env:"CHROME_PATH" usage:"Chrome or Chromium used for protected download pages"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" default:"30s" usage:"Timeout of a single HTTP request"`
	StatusCacheSize int           `env:"STATUS_CACHE_SIZE" default:"512" usage:"Entries kept by the status cache"`
}

// LoadOptions reads an optional .env file from the working directory and
// then the FCROLLBACK_* environment variables.
func LoadOptions() (Options, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Ignoring unreadable .env file")
	}

	var opts Options
	loader := aconfig.LoaderFor(&opts, aconfig.Config{
		EnvPrefix: EnvPrefix,
		SkipFlags: true,
		SkipFiles: true,
	})
	if err := loader.Load(); err != nil {
		return opts, eris.Wrap(err, "failed to load options")
	}
	return opts, opts.Validate()
}

// Validate verifies that all fields have usable values.
func (o Options) Validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.ManifestURL, validation.Required, is.URL),
		validation.Field(&o.HTTPTimeout, validation.Min(time.Second)),
		validation.Field(&o.StatusCacheSize, validation.Min(0)),
	)
	if err != nil {
		return eris.Wrap(err, "invalid options")
	}
	return nil
}

// Env returns base, or the host directories when base is nil, with the
// directory overrides of o applied.
func (o Options) Env(base *paths.Env) (paths.Env, error) {
	var env paths.Env
	if base != nil {
		env = *base
	} else {
		var err error
		if env, err = paths.DefaultEnv(); err != nil {
			return env, err
		}
	}
	if o.LocalAppData != "" {
		env.LocalAppData = o.LocalAppData
	}
	if o.WorkDir != "" {
		env.WorkDir = o.WorkDir
	}
	return env, nil
}

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/habedi/fcrollback/app"
	"github.com/habedi/fcrollback/cmd"
	"github.com/habedi/fcrollback/paths"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"
)

const debugEnv = "DEBUG_FCROLLBACK"

// main sets up logging, cancels the running command on the first interrupt
// and exits on the second.
func main() {
	debug := configureLogLevelFromEnv()
	logFile := setupLogging(debug)
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		return eris.ToJSON(err, true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupt(setupInterruptListener(), cancel, func(msg string) {
		log.Error().Msg(msg)
	}, func(code int) {
		if logFile != nil {
			_ = logFile.Close()
		}
		os.Exit(code)
	})

	cmd.Execute(ctx)
	if logFile != nil {
		_ = logFile.Close()
	}
}

// configureLogLevelFromEnv enables debug logging when DEBUG_FCROLLBACK is set
// to anything but a false value; otherwise only info and above are logged.
func configureLogLevelFromEnv() bool {
	v := os.Getenv(debugEnv)
	debug := v != ""
	if b, err := strconv.ParseBool(v); err == nil {
		debug = b
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return debug
}

// setupLogging writes JSON logs to the rotating log file, and to stderr as
// well in debug mode. The returned logger is nil when no file could be opened.
func setupLogging(debug bool) *lumberjack.Logger {
	var writers []io.Writer
	if debug {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	var file *lumberjack.Logger
	if path, err := logFilePath(); err == nil {
		file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
		}
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		log.Logger = zerolog.Nop()
		return nil
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return file
}

func logFilePath() (string, error) {
	opts, err := app.LoadOptions()
	if err != nil {
		return "", err
	}
	env, err := opts.Env(nil)
	if err != nil {
		return "", err
	}
	return paths.New(afero.NewOsFs(), env).LogFile()
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 2)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	return stopChan
}

// handleInterrupt cancels the running command on the first signal and exits
// on the second.
func handleInterrupt(stopChan chan os.Signal, cancel func(), fatalLog func(string), exit func(int)) {
	<-stopChan
	log.Warn().Msg("Interrupt signal received. Cancelling...")
	cancel()
	<-stopChan
	fatalLog("Interrupt signal received. Exiting...")
	exit(1)
}

package daemon

import (
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger loads the YAML configuration at configPath (falling back to
// defaults, per loadConfig) and constructs the *slog.Logger that
// configuration's log section describes. Callers that need a logger before
// a Daemon exists — main's very first diagnostics, and the logger handed
// into New itself — go through here rather than constructing their own so
// that log_file/verbose/rotation settings take effect uniformly.
func NewLogger(configPath string) (l *slog.Logger, err error) {
	conf, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return newLogger(conf.Log), nil
}

// newLogger returns a *slog.Logger configured from ls.
func newLogger(ls logSettings) (l *slog.Logger) {
	lvl := slog.LevelInfo
	if ls.Verbose {
		lvl = slog.LevelDebug
	}

	conf := &slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	}

	if ls.File != "" {
		conf.Output = &lumberjack.Logger{
			Filename:   ls.File,
			Compress:   ls.Compress,
			LocalTime:  ls.LocalTime,
			MaxBackups: ls.MaxBackups,
			MaxSize:    ls.MaxSize,
			MaxAge:     ls.MaxAge,
		}
	}

	return slogutil.New(conf)
}

package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-canusb-server/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	l := logging.New(format, lvl, os.Stderr).With("app", "canusb-server")
	if err != nil {
		l.Warn("log_level_fallback", "error", err, "used", lvl.String())
	}
	logging.Set(l)
	return l
}
